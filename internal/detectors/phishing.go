package detectors

import (
	"strings"
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

// Phishing rule tokens.
const (
	RuleURLShortener    = "url_shortener"
	RuleCallbackPhone   = "callback_phone"
	RuleOTPShareRequest = "otp_share_request"
	RuleUrgencyLanguage = "urgency_language"
	RuleMultipleURLs    = "multiple_urls"
	RuleObfuscatedText  = "obfuscated_text"
	RuleShoutingMemo    = "shouting_memo"
)

// Phishing screens the free-text memo and addresses for social-engineering
// patterns.
type Phishing struct {
	registry *classifier.Registry
}

func NewPhishing(registry *classifier.Registry) *Phishing {
	return &Phishing{registry: registry}
}

func (d *Phishing) ID() string { return models.DetectorPhishing }

func (d *Phishing) IsReady() bool {
	return d.registry.Get(models.DetectorPhishing) != nil
}

func (d *Phishing) Score(req *models.TransactionRequest, cfg *configs.ScreeningConfig, _ time.Time) models.Subscore {
	vec := features.ExtractPhishing(req, cfg)
	memo := strings.ToLower(req.Message)

	rules := []Rule{
		{
			Name:   RuleURLShortener,
			Weight: ruleWeights[RuleURLShortener],
			Hard:   true,
			Matches: func() bool {
				return vec.Get(features.PhishShortenerPresent) == 1
			},
		},
		{
			Name:   RuleCallbackPhone,
			Weight: ruleWeights[RuleCallbackPhone],
			Hard:   true,
			Matches: func() bool {
				return vec.Get(features.PhishPhonePresent) == 1 &&
					strings.Contains(memo, "call back")
			},
		},
		{
			Name:   RuleOTPShareRequest,
			Weight: ruleWeights[RuleOTPShareRequest],
			Hard:   true,
			Matches: func() bool {
				return vec.Get(features.PhishOTPMention) == 1 &&
					(strings.Contains(memo, "share") || strings.Contains(memo, "tell"))
			},
		},
		{
			Name:   RuleUrgencyLanguage,
			Weight: ruleWeights[RuleUrgencyLanguage],
			Matches: func() bool {
				return vec.Get(features.PhishUrgencyHits) >= 2
			},
		},
		{
			Name:   RuleMultipleURLs,
			Weight: ruleWeights[RuleMultipleURLs],
			Matches: func() bool {
				return vec.Get(features.PhishURLCount) >= 2
			},
		},
		{
			Name:   RuleObfuscatedText,
			Weight: ruleWeights[RuleObfuscatedText],
			Matches: func() bool {
				return vec.Get(features.PhishObfuscated) == 1
			},
		},
		{
			Name:   RuleShoutingMemo,
			Weight: ruleWeights[RuleShoutingMemo],
			Matches: func() bool {
				return vec.Get(features.PhishUppercaseFrac) > 0.5 && len(req.Message) >= 12
			},
		},
	}

	return compose(models.DetectorPhishing, d.registry.Get(models.DetectorPhishing), vec, rules)
}
