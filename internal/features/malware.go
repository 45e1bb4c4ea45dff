package features

import (
	"github.com/trustpay/screening-engine/internal/models"
)

// Malware feature names, in model column order.
const (
	MalSuspiciousApp   = "suspicious_app_flag"
	MalAccessibility   = "accessibility_service_active"
	MalScreenOverlay   = "screen_overlay_active"
	MalDebugger        = "debugger_attached"
	MalRecentSideload  = "recent_sideload"
	MalAppCountBucket  = "installed_app_bucket"
)

var malwareNames = []string{
	MalSuspiciousApp, MalAccessibility, MalScreenOverlay,
	MalDebugger, MalRecentSideload, MalAppCountBucket,
}

// ExtractMalware derives the device-compromise vector from the posture
// bundle. A missing bundle yields the all-neutral vector.
func ExtractMalware(req *models.TransactionRequest) Vector {
	p := req.DevicePosture
	if p == nil {
		p = &models.DevicePosture{}
	}

	return Vector{
		Names: malwareNames,
		Values: []float64{
			boolFeature(p.SuspiciousAppFlag),
			boolFeature(p.AccessibilityServiceActive),
			boolFeature(p.ScreenOverlayActive),
			boolFeature(p.DebuggerAttached),
			boolFeature(p.RecentSideload),
			appCountBucket(p.InstalledAppCount),
		},
	}
}

// appCountBucket buckets installed-app counts; very low counts suggest an
// emulator or a freshly wiped device, very high counts a sideload habit.
func appCountBucket(n int) float64 {
	switch {
	case n == 0:
		return 0
	case n < 20:
		return 1
	case n < 100:
		return 2
	case n < 200:
		return 3
	default:
		return 4
	}
}
