package features

import (
	"strings"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// Phishing feature names, in model column order.
const (
	PhishUrgencyHits      = "urgency_hits"
	PhishURLCount         = "url_count"
	PhishShortenerPresent = "shortener_present"
	PhishUppercaseFrac    = "uppercase_fraction"
	PhishObfuscated       = "obfuscated_tokens"
	PhishPhonePresent     = "phone_present"
	PhishOTPMention       = "otp_mention"
	PhishAmountBucket     = "amount_bucket"
	PhishInvalidPayeeVPA  = "invalid_payee_vpa"
)

var phishingNames = []string{
	PhishUrgencyHits, PhishURLCount, PhishShortenerPresent,
	PhishUppercaseFrac, PhishObfuscated, PhishPhonePresent,
	PhishOTPMention, PhishAmountBucket, PhishInvalidPayeeVPA,
}

// ExtractPhishing derives the phishing vector from the memo and addresses.
func ExtractPhishing(req *models.TransactionRequest, cfg *configs.ScreeningConfig) Vector {
	memo := req.Message
	lower := strings.ToLower(memo)

	return Vector{
		Names: phishingNames,
		Values: []float64{
			float64(LexiconHits(memo, cfg.UrgencyLexicon)),
			float64(len(ExtractURLs(memo))),
			boolFeature(ContainsShortener(memo, cfg.ShortenerHosts)),
			UppercaseFraction(memo),
			boolFeature(HasObfuscatedTokens(memo)),
			boolFeature(ContainsPhoneNumber(memo)),
			boolFeature(strings.Contains(lower, "otp")),
			AmountBucket(req.Amount),
			boolFeature(req.PayeeVPA != "" && !ValidVPA(req.PayeeVPA)),
		},
	}
}
