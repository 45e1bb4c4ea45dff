package scoring

import (
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

// Disagreement spread between the most and least suspicious detectors that
// forces a human to adjudicate.
const disagreementSpread = 0.6

// HITLResult is the human-in-the-loop verdict for one decision.
type HITLResult struct {
	Required bool
	Priority string
	SLA      time.Duration
}

// EvaluateHITL decides whether the automated decision must be suspended and
// routed to an analyst, and with what priority and SLA.
func EvaluateHITL(decision *models.Decision, amount float64, cfg *configs.ScreeningConfig) HITLResult {
	if !cfg.HITLEnabled {
		return HITLResult{}
	}

	maxP, minP := probabilityRange(decision.Subscores)

	required := false
	switch {
	case decision.Action == models.ActionWarn:
		// Confirm with a human before releasing a warning.
		required = true
	case decision.Action == models.ActionBlock && maxP < decisiveProbability:
		// High risk but no individual detector is decisive.
		required = true
	case maxP-minP >= disagreementSpread && maxP < decisiveProbability:
		// Sharp disagreement without a decisive detector. A decisive verdict
		// (p >= 0.9) stands on its own even when the others stayed quiet.
		required = true
	case amount >= cfg.LargeAmountThreshold && decision.Action != models.ActionAllow:
		required = true
	}

	if !required {
		return HITLResult{}
	}

	priority, sla := prioritize(decision, amount, cfg)
	return HITLResult{Required: true, Priority: priority, SLA: sla}
}

// prioritize applies the priority/SLA table, first match wins.
func prioritize(decision *models.Decision, amount float64, cfg *configs.ScreeningConfig) (string, time.Duration) {
	switch {
	case decision.Action == models.ActionBlock && amount >= cfg.LargeAmountThreshold:
		return models.PriorityCritical, 60 * time.Second
	case decision.Action == models.ActionBlock:
		return models.PriorityHigh, 5 * time.Minute
	case decision.TrustScore < 35:
		return models.PriorityHigh, 5 * time.Minute
	case decision.TrustScore < 50:
		return models.PriorityMedium, 30 * time.Minute
	default:
		return models.PriorityLow, 4 * time.Hour
	}
}

func probabilityRange(subscores []models.Subscore) (maxP, minP float64) {
	if len(subscores) == 0 {
		return 0, 0
	}
	maxP, minP = subscores[0].Probability, subscores[0].Probability
	for _, s := range subscores[1:] {
		if s.Probability > maxP {
			maxP = s.Probability
		}
		if s.Probability < minP {
			minP = s.Probability
		}
	}
	return maxP, minP
}
