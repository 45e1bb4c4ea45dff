// Package scoring fuses detector verdicts into a decision, explains it, and
// orchestrates the per-request pipeline.
package scoring

import (
	"math"
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// Override probability gates. The hard-rule gate itself is configuration
// (HardRuleThreshold); these two are fixed by the decision policy.
const (
	consensusBlockProbability = 0.7
	decisiveProbability       = 0.9
	hardOverrideTrustCap      = 20
)

// actionRank orders actions by strictness for tie resolution.
var actionRank = map[string]int{
	models.ActionAllow: 0,
	models.ActionWarn:  1,
	models.ActionBlock: 2,
}

// Aggregate fuses the four subscores into a trust score and proposed action.
func Aggregate(subscores []models.Subscore, cfg *configs.ScreeningConfig, now time.Time) models.Decision {
	var risk float64
	for _, s := range subscores {
		risk += weightFor(s.Detector, cfg) * s.Probability
	}

	trustScore := int(math.Round((1 - risk) * 100))
	if trustScore < 0 {
		trustScore = 0
	}
	if trustScore > 100 {
		trustScore = 100
	}

	action := bandAction(trustScore, cfg)

	// Hard overrides, first match wins.
	switch {
	case hasHardOverride(subscores, cfg.HardRuleThreshold):
		action = models.ActionBlock
		if trustScore > hardOverrideTrustCap {
			trustScore = hardOverrideTrustCap
		}
	case countAbove(subscores, consensusBlockProbability) >= 2:
		action = models.ActionBlock
	case countAbove(subscores, decisiveProbability) >= 1:
		action = stricter(action, models.ActionWarn)
	}

	return models.Decision{
		TrustScore: trustScore,
		Action:     action,
		Subscores:  subscores,
		CreatedAt:  now,
	}
}

// bandAction maps a trust score onto the configured threshold bands. Both
// band boundaries are lower-inclusive.
func bandAction(trustScore int, cfg *configs.ScreeningConfig) string {
	switch {
	case trustScore >= cfg.AllowThreshold:
		return models.ActionAllow
	case trustScore >= cfg.WarnThreshold:
		return models.ActionWarn
	default:
		return models.ActionBlock
	}
}

func weightFor(detector string, cfg *configs.ScreeningConfig) float64 {
	switch detector {
	case models.DetectorPhishing:
		return cfg.DetectorWeights.Phishing
	case models.DetectorQuishing:
		return cfg.DetectorWeights.Quishing
	case models.DetectorCollect:
		return cfg.DetectorWeights.Collect
	case models.DetectorMalware:
		return cfg.DetectorWeights.Malware
	}
	return 0
}

func hasHardOverride(subscores []models.Subscore, threshold float64) bool {
	for _, s := range subscores {
		if s.HardHit && s.Probability >= threshold {
			return true
		}
	}
	return false
}

func countAbove(subscores []models.Subscore, threshold float64) int {
	n := 0
	for _, s := range subscores {
		if s.Probability >= threshold {
			n++
		}
	}
	return n
}

// stricter resolves toward the stricter of two actions.
func stricter(a, b string) string {
	if actionRank[a] >= actionRank[b] {
		return a
	}
	return b
}
