package detectors

import (
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

// Collect rule tokens.
const (
	RuleLargeAmountNewPayeeCollect = "large_amount_new_payee_collect"
	RuleUnsolicitedCollect         = "unsolicited_collect"
	RuleMerchantKeywords           = "merchant_category_keywords"
	RuleOffHoursCollect            = "off_hours_collect"
	RuleHighValueCollect           = "high_value_collect"
)

// Collect screens pull-payment requests, the "approve to claim your reward"
// scam surface.
type Collect struct {
	registry *classifier.Registry
}

func NewCollect(registry *classifier.Registry) *Collect {
	return &Collect{registry: registry}
}

func (d *Collect) ID() string { return models.DetectorCollect }

func (d *Collect) IsReady() bool {
	return d.registry.Get(models.DetectorCollect) != nil
}

func (d *Collect) Score(req *models.TransactionRequest, cfg *configs.ScreeningConfig, now time.Time) models.Subscore {
	vec := features.ExtractCollect(req, cfg, now)
	isCollect := req.TransactionType == models.TypeCollect
	payeeNew := req.PayeeNew == 1

	rules := []Rule{
		{
			Name:   RuleLargeAmountNewPayeeCollect,
			Weight: ruleWeights[RuleLargeAmountNewPayeeCollect],
			Hard:   true,
			Matches: func() bool {
				// Threshold is inclusive.
				return isCollect && payeeNew && req.Amount >= cfg.LargeAmountThreshold
			},
		},
		{
			Name:   RuleUnsolicitedCollect,
			Weight: ruleWeights[RuleUnsolicitedCollect],
			Matches: func() bool {
				return isCollect && payeeNew
			},
		},
		{
			Name:   RuleMerchantKeywords,
			Weight: ruleWeights[RuleMerchantKeywords],
			Matches: func() bool {
				return isCollect && vec.Get(features.CollectKeywordHits) >= 1
			},
		},
		{
			Name:   RuleOffHoursCollect,
			Weight: ruleWeights[RuleOffHoursCollect],
			Matches: func() bool {
				return isCollect && vec.Get(features.CollectOffHours) == 1
			},
		},
		{
			Name:   RuleHighValueCollect,
			Weight: ruleWeights[RuleHighValueCollect],
			Matches: func() bool {
				return isCollect && vec.Get(features.CollectAmountBucket) >= 3
			},
		},
	}

	return compose(models.DetectorCollect, d.registry.Get(models.DetectorCollect), vec, rules)
}
