package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/models"
)

func testScreeningConfig() *configs.ScreeningConfig {
	return &configs.ScreeningConfig{
		LargeAmountThreshold: 50000,
		UrgencyLexicon:       []string{"urgent", "verify", "kyc", "otp", "blocked", "refund", "reward", "lottery", "prize"},
		ShortenerHosts:       []string{"bit.ly", "tinyurl.com"},
		MerchantKeywords:     []string{"lottery", "prize", "gift", "investment"},
	}
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"none", "pay me for lunch", 0},
		{"plain http", "click http://example.com/x now", 1},
		{"www form", "go to www.example.com/pay", 1},
		{"bare domain with path", "tap bit.ly/abc to claim", 1},
		{"two urls", "http://a.com/1 and https://b.com/2", 2},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ExtractURLs(tt.text), tt.want)
		})
	}
}

func TestContainsShortener(t *testing.T) {
	shorteners := []string{"bit.ly", "tinyurl.com"}

	assert.True(t, ContainsShortener("tap bit.ly/abc now", shorteners))
	assert.True(t, ContainsShortener("see https://bit.ly/xyz", shorteners))
	assert.True(t, ContainsShortener("www.tinyurl.com/q", shorteners))
	assert.False(t, ContainsShortener("see https://example.com/bit.ly", shorteners))
	assert.False(t, ContainsShortener("no links here", shorteners))
}

func TestLexiconHits(t *testing.T) {
	lex := []string{"urgent", "verify", "kyc", "otp"}

	assert.Equal(t, 0, LexiconHits("", lex))
	assert.Equal(t, 0, LexiconHits("pay for lunch", lex))
	assert.Equal(t, 3, LexiconHits("URGENT: verify your KYC", lex))
	// Repeats count once per lexicon word.
	assert.Equal(t, 1, LexiconHits("urgent urgent urgent", lex))
}

func TestUppercaseFraction(t *testing.T) {
	assert.Equal(t, 0.0, UppercaseFraction(""))
	assert.Equal(t, 0.0, UppercaseFraction("1234"))
	assert.Equal(t, 1.0, UppercaseFraction("URGENT"))
	assert.InDelta(t, 0.5, UppercaseFraction("AbCd"), 1e-9)
}

func TestHasObfuscatedTokens(t *testing.T) {
	assert.True(t, HasObfuscatedTokens("your acc0unt is b1ocked"))
	assert.True(t, HasObfuscatedTokens("send 0TP now"))
	assert.False(t, HasObfuscatedTokens("send 500 rupees"))
	assert.False(t, HasObfuscatedTokens(""))
}

func TestContainsPhoneNumber(t *testing.T) {
	assert.True(t, ContainsPhoneNumber("call back 9876543210"))
	assert.True(t, ContainsPhoneNumber("reach +91 9876543210"))
	assert.False(t, ContainsPhoneNumber("send 500 for order 12345"))
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(""))
	assert.Equal(t, 0.0, Entropy("aaaa"))
	assert.Greater(t, Entropy("a8$kQz!2mN#p"), Entropy("aaaabbbb"))
}

func TestValidVPA(t *testing.T) {
	assert.True(t, ValidVPA("alice@bank"))
	assert.False(t, ValidVPA("alice"))
	assert.False(t, ValidVPA("@bank"))
	assert.False(t, ValidVPA("alice@"))
	assert.False(t, ValidVPA("a@b@c"))
}

func TestAmountBucket(t *testing.T) {
	assert.Equal(t, 0.0, AmountBucket(0))
	assert.Equal(t, 0.0, AmountBucket(100))
	assert.Equal(t, 1.0, AmountBucket(500))
	assert.Equal(t, 2.0, AmountBucket(10000))
	assert.Equal(t, 3.0, AmountBucket(50000))
	assert.Equal(t, 4.0, AmountBucket(75000))
}

func TestExtractPhishingNeutral(t *testing.T) {
	req := &models.TransactionRequest{TransactionID: "t1", PayeeVPA: "bob@bank"}
	vec := ExtractPhishing(req, testScreeningConfig())

	require.Len(t, vec.Values, len(vec.Names))
	for i, v := range vec.Values {
		assert.Zero(t, v, "feature %s should be neutral", vec.Names[i])
	}
}

func TestExtractPhishingScam(t *testing.T) {
	req := &models.TransactionRequest{
		TransactionID: "t2",
		Message:       "URGENT: verify KYC, share OTP to 9876543210, tap bit.ly/abc",
		Amount:        100,
	}
	vec := ExtractPhishing(req, testScreeningConfig())

	assert.GreaterOrEqual(t, vec.Get(PhishUrgencyHits), 3.0)
	assert.Equal(t, 1.0, vec.Get(PhishShortenerPresent))
	assert.Equal(t, 1.0, vec.Get(PhishPhonePresent))
	assert.Equal(t, 1.0, vec.Get(PhishOTPMention))
}

func TestParseQRPayload(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		p := ParseQRPayload("")
		assert.False(t, p.Present)
	})

	t.Run("standard upi", func(t *testing.T) {
		p := ParseQRPayload("upi://pay?pa=alice@bank&pn=Alice&am=100.00&cu=INR")
		assert.True(t, p.Present)
		assert.Equal(t, "upi", p.Scheme)
		assert.Equal(t, "alice@bank", p.EncodedPayee)
		assert.True(t, p.HasAmount)
		assert.Equal(t, 100.0, p.EncodedAmount)
		assert.Zero(t, p.ExtraParams)
	})

	t.Run("payee mismatch", func(t *testing.T) {
		p := ParseQRPayload("upi://pay?pa=mallory@bank&am=1000")
		assert.True(t, p.PayeeMismatch("alice@bank"))
		assert.False(t, p.PayeeMismatch("mallory@bank"))
		assert.False(t, p.PayeeMismatch("MALLORY@bank"))
	})

	t.Run("amount mismatch", func(t *testing.T) {
		p := ParseQRPayload("upi://pay?pa=a@b&am=1000")
		assert.InDelta(t, 9.0, p.AmountMismatchPct(100), 1e-9)
		assert.InDelta(t, 0.0, p.AmountMismatchPct(1000), 1e-9)
	})

	t.Run("ip host", func(t *testing.T) {
		p := ParseQRPayload("http://192.168.1.50/pay?pa=x@y")
		assert.True(t, p.HostIsIPLiteral())
		assert.Equal(t, "http", p.Scheme)
	})

	t.Run("nonstandard params", func(t *testing.T) {
		p := ParseQRPayload("upi://pay?pa=a@b&redirect=evil&track=1")
		assert.Equal(t, 2, p.ExtraParams)
	})
}

func TestExtractQRNeutral(t *testing.T) {
	req := &models.TransactionRequest{TransactionID: "t3", PayeeVPA: "alice@bank", Amount: 50}
	vec := ExtractQR(req)

	for i, v := range vec.Values {
		assert.Zero(t, v, "feature %s should be neutral", vec.Names[i])
	}
}

func TestExtractCollect(t *testing.T) {
	cfg := testScreeningConfig()
	weekdayNoon := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC) // Wednesday

	t.Run("pay is neutral", func(t *testing.T) {
		req := &models.TransactionRequest{TransactionID: "t4", TransactionType: models.TypePay, Amount: 50}
		vec := ExtractCollect(req, cfg, weekdayNoon)
		assert.Zero(t, vec.Get(CollectIsCollect))
		assert.Zero(t, vec.Get(CollectPayeeNew))
		assert.Zero(t, vec.Get(CollectOffHours))
	})

	t.Run("collect from new payee", func(t *testing.T) {
		req := &models.TransactionRequest{
			TransactionID:   "t5",
			TransactionType: models.TypeCollect,
			PayeeNew:        1,
			Amount:          75000,
			Message:         "prize claim",
		}
		vec := ExtractCollect(req, cfg, weekdayNoon)
		assert.Equal(t, 1.0, vec.Get(CollectIsCollect))
		assert.Equal(t, 1.0, vec.Get(CollectPayeeNew))
		assert.Equal(t, 4.0, vec.Get(CollectAmountBucket))
		assert.GreaterOrEqual(t, vec.Get(CollectKeywordHits), 1.0)
	})

	t.Run("off hours", func(t *testing.T) {
		req := &models.TransactionRequest{TransactionID: "t6", TransactionType: models.TypeCollect}
		night := time.Date(2024, 11, 6, 3, 0, 0, 0, time.UTC)
		assert.Equal(t, 1.0, ExtractCollect(req, cfg, night).Get(CollectOffHours))

		saturday := time.Date(2024, 11, 9, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, 1.0, ExtractCollect(req, cfg, saturday).Get(CollectOffHours))
	})
}

func TestExtractMalware(t *testing.T) {
	t.Run("missing posture is neutral", func(t *testing.T) {
		req := &models.TransactionRequest{TransactionID: "t7"}
		vec := ExtractMalware(req)
		for i, v := range vec.Values {
			assert.Zero(t, v, "feature %s should be neutral", vec.Names[i])
		}
	})

	t.Run("compromised posture", func(t *testing.T) {
		req := &models.TransactionRequest{
			TransactionID: "t8",
			DevicePosture: &models.DevicePosture{
				DebuggerAttached:           true,
				AccessibilityServiceActive: true,
				InstalledAppCount:          45,
			},
		}
		vec := ExtractMalware(req)
		assert.Equal(t, 1.0, vec.Get(MalDebugger))
		assert.Equal(t, 1.0, vec.Get(MalAccessibility))
		assert.Equal(t, 2.0, vec.Get(MalAppCountBucket))
	})
}

func TestVectorTopBy(t *testing.T) {
	vec := Vector{
		Names:  []string{"a", "b", "c"},
		Values: []float64{1, 2, 0},
	}

	assert.Equal(t, []string{"b", "a"}, vec.TopBy(nil, 2))
	// Weighting can reorder.
	assert.Equal(t, []string{"a", "b"}, vec.TopBy([]float64{5, 1, 1}, 2))
	// Zero contributions are skipped.
	assert.Equal(t, []string{"b"}, vec.TopBy([]float64{0, 1, 1}, 2))
}
