package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	screening := cfg.Screening.Current()
	assert.Equal(t, 65, screening.AllowThreshold)
	assert.Equal(t, 45, screening.WarnThreshold)
	assert.Equal(t, 50000.0, screening.LargeAmountThreshold)
	assert.True(t, screening.HITLEnabled)
	assert.Equal(t, 0.85, screening.HardRuleThreshold)
	assert.InDelta(t, 0.25, screening.DetectorWeights.Phishing, 1e-9)
	assert.NotEmpty(t, screening.ShortenerHosts)
	assert.NotEmpty(t, screening.UrgencyLexicon)
}

func TestDetectorWeightsNormalizedOnLoad(t *testing.T) {
	t.Setenv("DETECTOR_WEIGHT_PHISH", "2")
	t.Setenv("DETECTOR_WEIGHT_QR", "1")
	t.Setenv("DETECTOR_WEIGHT_COLLECT", "1")
	t.Setenv("DETECTOR_WEIGHT_MALWARE", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	w := cfg.Screening.Current().DetectorWeights
	sum := w.Phishing + w.Quishing + w.Collect + w.Malware
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 2.0/4.5, w.Phishing, 1e-9)
}

func TestInvalidThresholdsRejected(t *testing.T) {
	t.Setenv("TRUST_SCORE_WARN_THRESHOLD", "70")
	t.Setenv("TRUST_SCORE_ALLOW_THRESHOLD", "65")

	_, err := Load()
	assert.Error(t, err)
}

func TestNonPositiveWeightsRejected(t *testing.T) {
	t.Setenv("DETECTOR_WEIGHT_PHISH", "0")
	t.Setenv("DETECTOR_WEIGHT_QR", "0")
	t.Setenv("DETECTOR_WEIGHT_COLLECT", "0")
	t.Setenv("DETECTOR_WEIGHT_MALWARE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestScreeningStoreSwap(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	original := cfg.Screening.Current()

	replacement := *original
	replacement.HITLEnabled = false
	cfg.Screening.Swap(&replacement)

	assert.False(t, cfg.Screening.Current().HITLEnabled)
	// The original snapshot is untouched; in-flight readers keep it.
	assert.True(t, original.HITLEnabled)
}

func TestGetListEnv(t *testing.T) {
	t.Setenv("SHORTENER_HOSTS", "a.ly, b.co ,c.io")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ly", "b.co", "c.io"}, cfg.Screening.Current().ShortenerHosts)
}
