package detectors

import (
	"time"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/features"
	"github.com/trustpay/screening-engine/internal/models"
)

// Malware rule tokens.
const (
	RuleDebuggerAttached         = "debugger_attached"
	RuleSideloadAccessibility    = "sideload_with_accessibility"
	RuleScreenOverlay            = "screen_overlay_active"
	RuleSuspiciousApp            = "suspicious_app"
	RuleAccessibilityService     = "accessibility_service_active"
)

// Malware screens the caller-supplied device posture for compromise signals.
// It consumes posture flags, not raw sensors.
type Malware struct {
	registry *classifier.Registry
}

func NewMalware(registry *classifier.Registry) *Malware {
	return &Malware{registry: registry}
}

func (d *Malware) ID() string { return models.DetectorMalware }

func (d *Malware) IsReady() bool {
	return d.registry.Get(models.DetectorMalware) != nil
}

func (d *Malware) Score(req *models.TransactionRequest, _ *configs.ScreeningConfig, _ time.Time) models.Subscore {
	vec := features.ExtractMalware(req)
	posture := req.DevicePosture
	if posture == nil {
		posture = &models.DevicePosture{}
	}

	rules := []Rule{
		{
			Name:   RuleDebuggerAttached,
			Weight: ruleWeights[RuleDebuggerAttached],
			Hard:   true,
			Matches: func() bool {
				return posture.DebuggerAttached
			},
		},
		{
			Name:   RuleSideloadAccessibility,
			Weight: ruleWeights[RuleSideloadAccessibility],
			Hard:   true,
			Matches: func() bool {
				return posture.RecentSideload && posture.AccessibilityServiceActive
			},
		},
		{
			Name:   RuleScreenOverlay,
			Weight: ruleWeights[RuleScreenOverlay],
			Matches: func() bool {
				return posture.ScreenOverlayActive
			},
		},
		{
			Name:   RuleSuspiciousApp,
			Weight: ruleWeights[RuleSuspiciousApp],
			Matches: func() bool {
				return posture.SuspiciousAppFlag
			},
		},
		{
			Name:   RuleAccessibilityService,
			Weight: ruleWeights[RuleAccessibilityService],
			Matches: func() bool {
				return posture.AccessibilityServiceActive
			},
		},
	}

	return compose(models.DetectorMalware, d.registry.Get(models.DetectorMalware), vec, rules)
}
