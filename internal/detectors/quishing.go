package detectors

import (
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

// Quishing rule tokens.
const (
	RuleQRPayeeMismatch     = "qr_payee_mismatch"
	RuleQRAmountMismatch    = "qr_amount_mismatch"
	RuleQRNonUPIScheme      = "qr_non_upi_scheme"
	RuleQRIPHost            = "qr_ip_host"
	RuleQRNonStandardParams = "qr_nonstandard_params"
	RuleQRHighEntropy       = "qr_high_entropy"
)

// qrAmountTolerance is the relative mismatch between the encoded and request
// amounts above which the payload is treated as tampered.
const qrAmountTolerance = 0.01

// Quishing screens scanned QR payloads for payee/amount tampering and
// crafted deep links.
type Quishing struct {
	registry *classifier.Registry
}

func NewQuishing(registry *classifier.Registry) *Quishing {
	return &Quishing{registry: registry}
}

func (d *Quishing) ID() string { return models.DetectorQuishing }

func (d *Quishing) IsReady() bool {
	return d.registry.Get(models.DetectorQuishing) != nil
}

func (d *Quishing) Score(req *models.TransactionRequest, _ *configs.ScreeningConfig, _ time.Time) models.Subscore {
	vec := features.ExtractQR(req)
	payload := features.ParseQRPayload(req.QRPayload)

	rules := []Rule{
		{
			Name:   RuleQRPayeeMismatch,
			Weight: ruleWeights[RuleQRPayeeMismatch],
			Hard:   true,
			Matches: func() bool {
				return payload.PayeeMismatch(req.PayeeVPA)
			},
		},
		{
			Name:   RuleQRAmountMismatch,
			Weight: ruleWeights[RuleQRAmountMismatch],
			Hard:   true,
			Matches: func() bool {
				return payload.AmountMismatchPct(req.Amount) > qrAmountTolerance
			},
		},
		{
			Name:   RuleQRNonUPIScheme,
			Weight: ruleWeights[RuleQRNonUPIScheme],
			Hard:   true,
			Matches: func() bool {
				return payload.Present && payload.Scheme != "upi"
			},
		},
		{
			Name:   RuleQRIPHost,
			Weight: ruleWeights[RuleQRIPHost],
			Hard:   true,
			Matches: func() bool {
				return payload.HostIsIPLiteral()
			},
		},
		{
			Name:   RuleQRNonStandardParams,
			Weight: ruleWeights[RuleQRNonStandardParams],
			Matches: func() bool {
				return payload.ExtraParams >= 2
			},
		},
		{
			Name:   RuleQRHighEntropy,
			Weight: ruleWeights[RuleQRHighEntropy],
			Matches: func() bool {
				return payload.Present && vec.Get(features.QRPayloadEntropy) > 5.5
			},
		},
	}

	return compose(models.DetectorQuishing, d.registry.Get(models.DetectorQuishing), vec, rules)
}
