package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/detectors"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

const (
	maxReasons        = 6
	maxShapeReasons   = 2
	reasonProbability = 0.3 // detectors below this stay silent
)

// reasonTemplates maps a rule token to its display sentence. Detectors with
// no fired rule fall back to the generic detector sentence.
var reasonTemplates = map[string]string{
	detectors.RuleURLShortener:    "Memo contains a link through a known URL shortener",
	detectors.RuleCallbackPhone:   "Memo asks for a call back to an unknown phone number",
	detectors.RuleOTPShareRequest: "Memo asks to share an OTP, a pattern banks never use",
	detectors.RuleUrgencyLanguage: "Memo uses urgency or authority language common in scams",
	detectors.RuleMultipleURLs:    "Memo contains multiple links",
	detectors.RuleObfuscatedText:  "Memo uses character substitutions to evade keyword filters",
	detectors.RuleShoutingMemo:    "Memo is written almost entirely in capitals",

	detectors.RuleQRPayeeMismatch:     "QR code pays a different payee than the one shown to you",
	detectors.RuleQRAmountMismatch:    "QR code encodes a different amount than the request",
	detectors.RuleQRNonUPIScheme:      "QR code does not use the UPI payment scheme",
	detectors.RuleQRIPHost:            "QR code points at a raw IP address",
	detectors.RuleQRNonStandardParams: "QR code carries unexpected parameters",
	detectors.RuleQRHighEntropy:       "QR payload looks machine-generated",

	detectors.RuleLargeAmountNewPayeeCollect: "Large collect request from a first-time payee",
	detectors.RuleUnsolicitedCollect:         "Money request from a payee you have not paid before",
	detectors.RuleMerchantKeywords:           "Request references prize, lottery or reward claims",
	detectors.RuleOffHoursCollect:            "Money request arrived at an unusual hour",
	detectors.RuleHighValueCollect:           "High-value money request",

	detectors.RuleDebuggerAttached:      "A debugger is attached to the payment app",
	detectors.RuleSideloadAccessibility: "Recently sideloaded app is using accessibility services",
	detectors.RuleScreenOverlay:         "Another app is drawing over the payment screen",
	detectors.RuleSuspiciousApp:         "A known-suspicious app is installed on this device",
	detectors.RuleAccessibilityService:  "An accessibility service can read the payment screen",

	models.RuleTimeout:             "A risk check did not finish in time and was treated as neutral",
	models.RuleDetectorUnavailable: "A risk check was unavailable and treated as neutral",
}

var detectorFallbacks = map[string]string{
	models.DetectorPhishing: "Memo resembles known phishing messages",
	models.DetectorQuishing: "QR code resembles known fraudulent codes",
	models.DetectorCollect:  "Money request resembles known collect scams",
	models.DetectorMalware:  "Device posture resembles compromised devices",
}

// Explainer assembles the human-facing reasoning bundle for a decision.
type Explainer struct {
	registry *classifier.Registry
}

func NewExplainer(registry *classifier.Registry) *Explainer {
	return &Explainer{registry: registry}
}

// Explain produces ranked reasons, the risk decomposition, and feature
// importance for one decision.
func (e *Explainer) Explain(req *models.TransactionRequest, decision *models.Decision, cfg *configs.ScreeningConfig, now time.Time) models.Explanation {
	breakdown, nominal := riskBreakdown(decision.Subscores, cfg)

	return models.Explanation{
		Reasons:           e.reasons(req, decision, cfg),
		RiskBreakdown:     breakdown,
		FeatureImportance: e.featureImportance(req, decision, cfg, now),
		RiskLevel:         RiskLevel(decision.TrustScore),
		Nominal:           nominal,
	}
}

// RiskLevel bands 1 - trust/100 into the display levels. Integer arithmetic
// keeps the band edges exact.
func RiskLevel(trustScore int) string {
	risk := 100 - trustScore
	switch {
	case risk < 20:
		return models.RiskLevelLow
	case risk < 40:
		return models.RiskLevelLowMedium
	case risk < 60:
		return models.RiskLevelMedium
	case risk < 80:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelCritical
	}
}

func (e *Explainer) reasons(req *models.TransactionRequest, decision *models.Decision, cfg *configs.ScreeningConfig) []string {
	type candidate struct {
		text     string
		salience float64
	}
	var candidates []candidate

	for _, s := range decision.Subscores {
		if s.Probability < reasonProbability {
			continue
		}
		text := detectorFallbacks[s.Detector]
		if rule := topRule(s.RuleHits); rule != "" {
			if t, ok := reasonTemplates[rule]; ok {
				text = t
			}
		}
		candidates = append(candidates, candidate{
			text:   text,
			salience: weightFor(s.Detector, cfg) * s.Probability,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].salience > candidates[j].salience
	})

	reasons := make([]string, 0, maxReasons)
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c.text] {
			continue
		}
		seen[c.text] = true
		reasons = append(reasons, c.text)
	}

	// Transaction-shape reasons trail the detector ones.
	for _, shape := range shapeReasons(req, cfg) {
		if len(reasons) >= maxReasons {
			break
		}
		if !seen[shape] {
			seen[shape] = true
			reasons = append(reasons, shape)
		}
	}

	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	return reasons
}

// topRule picks the highest-weighted fired rule, skipping the coordinator's
// reserved tokens unless nothing else fired.
func topRule(hits []string) string {
	best, bestWeight := "", -1.0
	for _, h := range hits {
		if w := detectors.RuleWeight(h); w > bestWeight {
			best, bestWeight = h, w
		}
	}
	return best
}

func shapeReasons(req *models.TransactionRequest, cfg *configs.ScreeningConfig) []string {
	var out []string
	if req.PayeeNew == 1 {
		out = append(out, "First-time payee for this payer")
	}
	if req.Amount >= cfg.LargeAmountThreshold {
		out = append(out, fmt.Sprintf("Amount %.0f is at or above the large-amount threshold", req.Amount))
	}
	if len(out) > maxShapeReasons {
		out = out[:maxShapeReasons]
	}
	return out
}

// riskBreakdown computes each detector's share of total risk. A zero
// denominator distributes shares evenly and marks the result nominal.
func riskBreakdown(subscores []models.Subscore, cfg *configs.ScreeningConfig) (map[string]float64, bool) {
	breakdown := make(map[string]float64, len(subscores))

	var total float64
	for _, s := range subscores {
		total += weightFor(s.Detector, cfg) * s.Probability
	}

	if total == 0 {
		for _, s := range subscores {
			breakdown[s.Detector] = 1.0 / float64(len(subscores))
		}
		return breakdown, true
	}

	for _, s := range subscores {
		breakdown[s.Detector] = weightFor(s.Detector, cfg) * s.Probability / total
	}
	return breakdown, false
}

// featureImportance concatenates the top two features of each triggered
// detector, dedupes preserving order, and renormalizes to sum 1.
func (e *Explainer) featureImportance(req *models.TransactionRequest, decision *models.Decision, cfg *configs.ScreeningConfig, now time.Time) []models.FeatureImportance {
	type scored struct {
		name string
		mag  float64
	}
	var all []scored

	for _, s := range decision.Subscores {
		if s.Probability < reasonProbability {
			continue
		}
		vec := e.vectorFor(s.Detector, req, cfg, now)
		model := e.registry.Get(s.Detector)

		var weights []float64
		if model != nil {
			weights = model.WeightsFor(vec)
		}
		for _, name := range vec.TopBy(weights, 2) {
			mag := math.Abs(vec.Get(name))
			if model != nil {
				for i, n := range vec.Names {
					if n == name {
						mag = math.Abs(vec.Values[i] * weights[i])
					}
				}
			}
			all = append(all, scored{name: name, mag: mag})
		}
	}

	var total float64
	seen := make(map[string]bool)
	var deduped []scored
	for _, s := range all {
		if seen[s.name] {
			continue
		}
		seen[s.name] = true
		deduped = append(deduped, s)
		total += s.mag
	}

	out := make([]models.FeatureImportance, 0, len(deduped))
	for _, s := range deduped {
		importance := s.mag
		if total > 0 {
			importance = s.mag / total
		}
		out = append(out, models.FeatureImportance{Name: s.name, Importance: importance})
	}
	return out
}

func (e *Explainer) vectorFor(detector string, req *models.TransactionRequest, cfg *configs.ScreeningConfig, now time.Time) features.Vector {
	switch detector {
	case models.DetectorPhishing:
		return features.ExtractPhishing(req, cfg)
	case models.DetectorQuishing:
		return features.ExtractQR(req)
	case models.DetectorCollect:
		return features.ExtractCollect(req, cfg, now)
	case models.DetectorMalware:
		return features.ExtractMalware(req)
	}
	return features.Vector{}
}
