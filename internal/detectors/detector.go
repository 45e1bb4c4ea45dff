// Package detectors implements the four risk detectors. Each combines a
// trained classifier with a rule overlay and never returns an error: a
// missing model degrades the detector to rule-only scoring.
package detectors

import (
	"math"
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

// Detector scores one request. Implementations must be deterministic for a
// fixed model and request, and must never panic.
type Detector interface {
	ID() string
	Score(req *models.TransactionRequest, cfg *configs.ScreeningConfig, now time.Time) models.Subscore
	IsReady() bool
}

// Rule is one overlay pattern. Hard rules are strong evidence: their fire is
// never diluted by a benign model prediction.
type Rule struct {
	Name    string
	Weight  float64
	Hard    bool
	Matches func() bool
}

// applyRules evaluates a rule set and returns the fired names, the clamped
// weighted sum, and whether any hard rule fired.
func applyRules(rules []Rule) (hits []string, pRules float64, hardHit bool) {
	for _, r := range rules {
		if r.Matches() {
			hits = append(hits, r.Name)
			pRules += r.Weight
			if r.Hard {
				hardHit = true
			}
		}
	}
	return hits, clamp01(pRules), hardHit
}

// compose fuses the model probability with the rule overlay:
// hard hit -> max, otherwise a 0.6/0.4 blend; rule-only when no model.
func compose(detector string, model *classifier.Model, vec features.Vector, rules []Rule) models.Subscore {
	hits, pRules, hardHit := applyRules(rules)
	if hits == nil {
		hits = []string{}
	}

	var p float64
	var margin float64
	switch {
	case model == nil:
		p = pRules
		margin = 0
	case hardHit:
		pModel := model.PredictProba(vec)
		p = math.Max(pModel, pRules)
		margin = classifier.Margin(pModel)
	default:
		pModel := model.PredictProba(vec)
		p = 0.6*pModel + 0.4*pRules
		margin = classifier.Margin(pModel)
	}

	return models.Subscore{
		Detector:    detector,
		Probability: clamp01(p),
		RuleHits:    hits,
		HardHit:     hardHit,
		Confidence:  tierOf(margin, len(hits)),
	}
}

// tierOf derives the confidence tier from the model margin and rule
// corroboration.
func tierOf(margin float64, ruleHits int) string {
	switch {
	case margin >= 0.45, margin >= 0.35 && ruleHits >= 1, ruleHits >= 3:
		return models.ConfidenceHigh
	case margin >= 0.2, ruleHits >= 1:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// Neutral is the substitute subscore the coordinator uses when a detector
// cannot produce a verdict in time.
func Neutral(detector, reason string) models.Subscore {
	return models.Subscore{
		Detector:    detector,
		Probability: 0.5,
		RuleHits:    []string{reason},
		Confidence:  models.ConfidenceLow,
	}
}

// All returns the fixed collection of the four detectors backed by one
// model registry.
func All(registry *classifier.Registry) []Detector {
	return []Detector{
		NewPhishing(registry),
		NewQuishing(registry),
		NewCollect(registry),
		NewMalware(registry),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
