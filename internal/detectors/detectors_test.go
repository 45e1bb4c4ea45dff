package detectors

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/models"
)

var testNow = time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC) // Wednesday noon

func testConfig() *configs.ScreeningConfig {
	return &configs.ScreeningConfig{
		AllowThreshold:       65,
		WarnThreshold:        45,
		LargeAmountThreshold: 50000,
		HardRuleThreshold:    0.85,
		HITLEnabled:          true,
		PerDetectorDeadline:  150 * time.Millisecond,
		DetectorWeights:      configs.DetectorWeights{Phishing: 0.25, Quishing: 0.25, Collect: 0.25, Malware: 0.25},
		ShortenerHosts:       []string{"bit.ly", "tinyurl.com"},
		UrgencyLexicon:       []string{"urgent", "verify", "kyc", "otp", "blocked", "refund", "reward", "lottery", "prize"},
		MerchantKeywords:     []string{"lottery", "prize", "gift", "investment"},
	}
}

func loadedRegistry(t *testing.T) *classifier.Registry {
	t.Helper()
	registry := classifier.NewRegistry(filepath.Join("..", "..", "models"))
	require.Equal(t, 4, registry.ReadyCount())
	return registry
}

func emptyRegistry(t *testing.T) *classifier.Registry {
	t.Helper()
	return classifier.NewRegistry(t.TempDir())
}

func TestPhishingBenign(t *testing.T) {
	d := NewPhishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID:   "tx-1",
		Message:         "Send 500 for lunch",
		Amount:          500,
		TransactionType: models.TypePay,
	}

	sub := d.Score(req, testConfig(), testNow)

	assert.Less(t, sub.Probability, 0.3)
	assert.Empty(t, sub.RuleHits)
	assert.False(t, sub.HardHit)
}

func TestPhishingScamMemo(t *testing.T) {
	d := NewPhishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID: "tx-2",
		Message:       "URGENT: verify KYC, share OTP to 9876543210, tap bit.ly/abc",
		Amount:        100,
	}

	sub := d.Score(req, testConfig(), testNow)

	assert.GreaterOrEqual(t, sub.Probability, 0.9)
	assert.True(t, sub.HardHit)
	assert.Contains(t, sub.RuleHits, RuleURLShortener)
	assert.Contains(t, sub.RuleHits, RuleOTPShareRequest)
	assert.Equal(t, models.ConfidenceHigh, sub.Confidence)
}

func TestPhishingRuleOnlyMode(t *testing.T) {
	d := NewPhishing(emptyRegistry(t))
	require.False(t, d.IsReady())

	req := &models.TransactionRequest{
		TransactionID: "tx-3",
		Message:       "share OTP now, tap bit.ly/abc",
	}

	sub := d.Score(req, testConfig(), testNow)

	// Probability comes purely from rule weights, clamped to [0,1].
	assert.GreaterOrEqual(t, sub.Probability, 0.9)
	assert.True(t, sub.HardHit)
}

func TestPhishingDeterminism(t *testing.T) {
	d := NewPhishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID: "tx-4",
		Message:       "urgent refund, verify at bit.ly/x",
		Amount:        900,
	}

	first := d.Score(req, testConfig(), testNow)
	second := d.Score(req, testConfig(), testNow)
	assert.Equal(t, first, second)
}

func TestQuishingPayeeMismatch(t *testing.T) {
	d := NewQuishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID:   "tx-5",
		PayeeVPA:        "alice@bank",
		Amount:          100,
		TransactionType: models.TypeQRPay,
		QRPayload:       "upi://pay?pa=mallory@bank&am=1000",
	}

	sub := d.Score(req, testConfig(), testNow)

	assert.GreaterOrEqual(t, sub.Probability, 0.9)
	assert.True(t, sub.HardHit)
	assert.Contains(t, sub.RuleHits, RuleQRPayeeMismatch)
	assert.Contains(t, sub.RuleHits, RuleQRAmountMismatch)
}

func TestQuishingCleanPayload(t *testing.T) {
	d := NewQuishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID:   "tx-6",
		PayeeVPA:        "alice@bank",
		Amount:          100,
		TransactionType: models.TypeQRPay,
		QRPayload:       "upi://pay?pa=alice@bank&pn=Alice&am=100&cu=INR",
	}

	sub := d.Score(req, testConfig(), testNow)

	assert.Less(t, sub.Probability, 0.5)
	assert.False(t, sub.HardHit)
}

func TestQuishingNoPayload(t *testing.T) {
	d := NewQuishing(loadedRegistry(t))
	req := &models.TransactionRequest{TransactionID: "tx-7", PayeeVPA: "alice@bank", Amount: 100}

	sub := d.Score(req, testConfig(), testNow)

	assert.Less(t, sub.Probability, 0.3)
	assert.Empty(t, sub.RuleHits)
}

func TestQuishingAmountWithinTolerance(t *testing.T) {
	d := NewQuishing(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID: "tx-8",
		PayeeVPA:      "alice@bank",
		Amount:        1000,
		QRPayload:     "upi://pay?pa=alice@bank&am=1005", // 0.5% off
	}

	sub := d.Score(req, testConfig(), testNow)
	assert.NotContains(t, sub.RuleHits, RuleQRAmountMismatch)
}

func TestCollectLargeAmountNewPayee(t *testing.T) {
	d := NewCollect(loadedRegistry(t))
	cfg := testConfig()
	req := &models.TransactionRequest{
		TransactionID:   "tx-9",
		TransactionType: models.TypeCollect,
		PayeeNew:        1,
		Amount:          75000,
		Message:         "prize claim",
	}

	sub := d.Score(req, cfg, testNow)

	assert.True(t, sub.HardHit)
	assert.Contains(t, sub.RuleHits, RuleLargeAmountNewPayeeCollect)
	assert.GreaterOrEqual(t, sub.Probability, cfg.HardRuleThreshold)
}

func TestCollectThresholdBoundaryInclusive(t *testing.T) {
	d := NewCollect(loadedRegistry(t))
	cfg := testConfig()
	req := &models.TransactionRequest{
		TransactionID:   "tx-10",
		TransactionType: models.TypeCollect,
		PayeeNew:        1,
		Amount:          cfg.LargeAmountThreshold,
	}

	sub := d.Score(req, cfg, testNow)
	assert.Contains(t, sub.RuleHits, RuleLargeAmountNewPayeeCollect)
}

func TestCollectPayNotFlagged(t *testing.T) {
	d := NewCollect(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID:   "tx-11",
		TransactionType: models.TypePay,
		PayeeNew:        1,
		Amount:          75000,
	}

	sub := d.Score(req, testConfig(), testNow)
	assert.False(t, sub.HardHit)
	assert.NotContains(t, sub.RuleHits, RuleLargeAmountNewPayeeCollect)
}

func TestMalwareHardRules(t *testing.T) {
	d := NewMalware(loadedRegistry(t))

	t.Run("debugger", func(t *testing.T) {
		req := &models.TransactionRequest{
			TransactionID: "tx-12",
			DevicePosture: &models.DevicePosture{
				DebuggerAttached:           true,
				AccessibilityServiceActive: true,
			},
		}
		sub := d.Score(req, testConfig(), testNow)
		assert.True(t, sub.HardHit)
		assert.GreaterOrEqual(t, sub.Probability, 0.85)
		assert.Contains(t, sub.RuleHits, RuleDebuggerAttached)
	})

	t.Run("sideload with accessibility", func(t *testing.T) {
		req := &models.TransactionRequest{
			TransactionID: "tx-13",
			DevicePosture: &models.DevicePosture{
				RecentSideload:             true,
				AccessibilityServiceActive: true,
			},
		}
		sub := d.Score(req, testConfig(), testNow)
		assert.True(t, sub.HardHit)
		assert.Contains(t, sub.RuleHits, RuleSideloadAccessibility)
	})

	t.Run("sideload alone is soft", func(t *testing.T) {
		req := &models.TransactionRequest{
			TransactionID: "tx-14",
			DevicePosture: &models.DevicePosture{RecentSideload: true},
		}
		sub := d.Score(req, testConfig(), testNow)
		assert.False(t, sub.HardHit)
	})
}

func TestMalwareNoPosture(t *testing.T) {
	d := NewMalware(loadedRegistry(t))
	req := &models.TransactionRequest{TransactionID: "tx-15"}

	sub := d.Score(req, testConfig(), testNow)
	assert.Less(t, sub.Probability, 0.3)
	assert.Empty(t, sub.RuleHits)
}

func TestNeutral(t *testing.T) {
	sub := Neutral(models.DetectorPhishing, models.RuleTimeout)

	assert.Equal(t, 0.5, sub.Probability)
	assert.Equal(t, models.ConfidenceLow, sub.Confidence)
	assert.Equal(t, []string{models.RuleTimeout}, sub.RuleHits)
	assert.False(t, sub.HardHit)
}

func TestAllReturnsFourDetectors(t *testing.T) {
	dets := All(loadedRegistry(t))
	require.Len(t, dets, 4)

	ids := make(map[string]bool)
	for _, d := range dets {
		ids[d.ID()] = true
	}
	assert.True(t, ids[models.DetectorPhishing])
	assert.True(t, ids[models.DetectorQuishing])
	assert.True(t, ids[models.DetectorCollect])
	assert.True(t, ids[models.DetectorMalware])
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, models.ConfidenceLow, tierOf(0.1, 0))
	assert.Equal(t, models.ConfidenceMedium, tierOf(0.25, 0))
	assert.Equal(t, models.ConfidenceMedium, tierOf(0.1, 1))
	assert.Equal(t, models.ConfidenceHigh, tierOf(0.4, 2))
	assert.Equal(t, models.ConfidenceHigh, tierOf(0.5, 0))
	assert.Equal(t, models.ConfidenceHigh, tierOf(0, 3))
}

func TestSoftBlendDoesNotReachHardLevels(t *testing.T) {
	// A soft-only fire blends 0.6*model + 0.4*rules and must stay below the
	// hard-override gate for a benign model score.
	d := NewCollect(loadedRegistry(t))
	req := &models.TransactionRequest{
		TransactionID:   "tx-16",
		TransactionType: models.TypeCollect,
		PayeeNew:        1,
		Amount:          500,
	}

	sub := d.Score(req, testConfig(), testNow)
	assert.False(t, sub.HardHit)
	assert.Less(t, sub.Probability, 0.85)
}
