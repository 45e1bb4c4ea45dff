package features

import (
	"math"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/trustpay/screening-engine/internal/models"
)

// QR feature names, in model column order.
const (
	QRHasPayload        = "has_payload"
	QRSchemeNotUPI      = "scheme_not_upi"
	QRHostIsIP          = "host_is_ip"
	QRPayeeMismatch     = "payee_mismatch"
	QRAmountMismatchPct = "amount_mismatch_pct"
	QRNonStandardParams = "nonstandard_params"
	QRPayloadLength     = "payload_length"
	QRPayloadEntropy    = "payload_entropy"
)

var qrNames = []string{
	QRHasPayload, QRSchemeNotUPI, QRHostIsIP, QRPayeeMismatch,
	QRAmountMismatchPct, QRNonStandardParams, QRPayloadLength,
	QRPayloadEntropy,
}

// standardQRParams are the NPCI deep-link parameters a benign UPI QR carries.
var standardQRParams = map[string]bool{
	"pa": true, "pn": true, "am": true, "cu": true, "tn": true,
	"mc": true, "tr": true, "tid": true, "mam": true, "mode": true,
	"purpose": true, "orgid": true, "sign": true,
}

// QRPayload is the parsed form of a scanned QR string.
type QRPayload struct {
	Present       bool
	Scheme        string
	Host          string
	EncodedPayee  string
	EncodedAmount float64 // 0 when absent
	HasAmount     bool
	ExtraParams   int
	Raw           string
}

// ParseQRPayload decodes a UPI deep link or URL payload. Total: malformed
// input yields a Present payload with zeroed fields so the rules can still
// judge it.
func ParseQRPayload(raw string) QRPayload {
	if raw == "" {
		return QRPayload{}
	}
	p := QRPayload{Present: true, Raw: raw}

	u, err := url.Parse(raw)
	if err != nil {
		return p
	}
	p.Scheme = strings.ToLower(u.Scheme)
	p.Host = strings.ToLower(u.Hostname())

	for key, vals := range u.Query() {
		k := strings.ToLower(key)
		if !standardQRParams[k] {
			p.ExtraParams++
			continue
		}
		if len(vals) == 0 {
			continue
		}
		switch k {
		case "pa":
			p.EncodedPayee = strings.ToLower(vals[0])
		case "am":
			if amt, err := strconv.ParseFloat(vals[0], 64); err == nil {
				p.EncodedAmount = amt
				p.HasAmount = true
			}
		}
	}
	return p
}

// PayeeMismatch reports a pa= value that differs from the request payee.
func (p QRPayload) PayeeMismatch(requestPayee string) bool {
	return p.EncodedPayee != "" && requestPayee != "" &&
		p.EncodedPayee != strings.ToLower(requestPayee)
}

// AmountMismatchPct returns the relative difference between the encoded and
// request amounts, 0 when either side is absent.
func (p QRPayload) AmountMismatchPct(requestAmount float64) float64 {
	if !p.HasAmount || requestAmount <= 0 {
		return 0
	}
	return math.Abs(p.EncodedAmount-requestAmount) / requestAmount
}

// HostIsIPLiteral reports a raw-IP host, a strong quishing tell.
func (p QRPayload) HostIsIPLiteral() bool {
	return p.Host != "" && net.ParseIP(p.Host) != nil
}

// ExtractQR derives the quishing vector from the QR payload and payee.
func ExtractQR(req *models.TransactionRequest) Vector {
	p := ParseQRPayload(req.QRPayload)

	schemeNotUPI := 0.0
	if p.Present && p.Scheme != "upi" {
		schemeNotUPI = 1
	}

	return Vector{
		Names: qrNames,
		Values: []float64{
			boolFeature(p.Present),
			schemeNotUPI,
			boolFeature(p.HostIsIPLiteral()),
			boolFeature(p.PayeeMismatch(req.PayeeVPA)),
			p.AmountMismatchPct(req.Amount),
			float64(p.ExtraParams),
			float64(len(p.Raw)) / 256.0,
			Entropy(p.Raw),
		},
	}
}
