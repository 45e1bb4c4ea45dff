package scoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/classifier"
	"github.com/trustpay/screening-engine/internal/detectors"
	"github.com/trustpay/screening-engine/internal/models"
)

// End-to-end pipeline runs against the shipped model artifacts.
func fullPipeline(t *testing.T, cfg *configs.ScreeningConfig) (*Coordinator, *fakeQueue) {
	t.Helper()

	registry := classifier.NewRegistry(filepath.Join("..", "..", "models"))
	require.Equal(t, 4, registry.ReadyCount())

	store := &configs.ScreeningStore{}
	store.Swap(cfg)

	queue := newFakeQueue()
	c := NewCoordinator(detectors.All(registry), store, queue, nil, nil, nil, NewExplainer(registry))
	return c, queue
}

func TestScenarioLegitimatePayment(t *testing.T) {
	c, queue := fullPipeline(t, testConfig())

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-1",
		PayerVPA:        "ravi@bank",
		PayeeVPA:        "lunch@bank",
		Amount:          500,
		Message:         "Send 500 for lunch",
		TransactionType: models.TypePay,
	}, "req-1")
	require.NoError(t, err)

	assert.Equal(t, models.ActionAllow, resp.Action)
	assert.GreaterOrEqual(t, resp.TrustScore, 80)
	assert.Empty(t, resp.Reasons)
	assert.Equal(t, models.RiskLevelLow, resp.RiskLevel)
	assert.Nil(t, resp.ReviewID)
	assert.Zero(t, queue.count())
}

func TestScenarioPhishingMemo(t *testing.T) {
	c, _ := fullPipeline(t, testConfig())

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-2",
		PayerVPA:        "victim@bank",
		PayeeVPA:        "scammer@bank",
		Amount:          100,
		Message:         "URGENT: verify KYC, share OTP to 9876543210, tap bit.ly/abc",
		TransactionType: models.TypePay,
	}, "req-2")
	require.NoError(t, err)

	assert.Equal(t, models.ActionBlock, resp.Action)
	assert.LessOrEqual(t, resp.TrustScore, 20)
	assert.GreaterOrEqual(t, resp.Subscores[models.DetectorPhishing], 0.9)
	assert.Contains(t, resp.Reasons, "Memo asks to share an OTP, a pattern banks never use")
}

func TestScenarioQuishingPayeeSwap(t *testing.T) {
	c, _ := fullPipeline(t, testConfig())

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-3",
		PayerVPA:        "buyer@bank",
		PayeeVPA:        "alice@bank",
		Amount:          100,
		TransactionType: models.TypeQRPay,
		QRPayload:       "upi://pay?pa=mallory@bank&am=1000",
	}, "req-3")
	require.NoError(t, err)

	assert.Equal(t, models.ActionBlock, resp.Action)
	assert.GreaterOrEqual(t, resp.Subscores[models.DetectorQuishing], 0.9)
	assert.Contains(t, resp.Reasons, "QR code pays a different payee than the one shown to you")
}

func TestScenarioLargeCollectFromStranger(t *testing.T) {
	cfg := testConfig()
	c, queue := fullPipeline(t, cfg)

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-4",
		PayerVPA:        "victim@bank",
		PayeeVPA:        "stranger@bank",
		Amount:          75000,
		Message:         "prize claim",
		TransactionType: models.TypeCollect,
		PayeeNew:        1,
	}, "req-4")
	require.NoError(t, err)

	assert.Equal(t, models.ActionHumanReview, resp.Action)
	require.NotNil(t, resp.ReviewID)
	require.Equal(t, 1, queue.count())

	entry := queue.entries["scenario-4"]
	assert.Equal(t, models.PriorityCritical, entry.Priority)
	assert.Equal(t, 60.0, entry.SLADeadline.Sub(entry.CreatedAt).Seconds())
}

func TestScenarioCompromisedDevice(t *testing.T) {
	c, _ := fullPipeline(t, testConfig())

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-5",
		PayerVPA:        "user@bank",
		PayeeVPA:        "shop@bank",
		Amount:          200,
		TransactionType: models.TypePay,
		DevicePosture: &models.DevicePosture{
			DebuggerAttached:           true,
			AccessibilityServiceActive: true,
		},
	}, "req-5")
	require.NoError(t, err)

	assert.Contains(t, []string{models.ActionWarn, models.ActionBlock, models.ActionHumanReview}, resp.Action)
	assert.GreaterOrEqual(t, resp.Subscores[models.DetectorMalware], 0.85)
	assert.Contains(t, resp.Reasons, "A debugger is attached to the payment app")
}

func TestScenarioDuplicateSubmission(t *testing.T) {
	cfg := testConfig()
	c, queue := fullPipeline(t, cfg)

	req := &models.TransactionRequest{
		TransactionID:   "scenario-6",
		PayerVPA:        "victim@bank",
		PayeeVPA:        "stranger@bank",
		Amount:          75000,
		Message:         "prize claim",
		TransactionType: models.TypeCollect,
		PayeeNew:        1,
	}

	first, err := c.Score(context.Background(), req, "req-6a")
	require.NoError(t, err)
	second, err := c.Score(context.Background(), req, "req-6b")
	require.NoError(t, err)

	assert.Equal(t, 1, queue.count())
	require.NotNil(t, first.ReviewID)
	require.NotNil(t, second.ReviewID)
	assert.Equal(t, *first.ReviewID, *second.ReviewID)
}

func TestScenarioEmptyNeutralRequest(t *testing.T) {
	c, queue := fullPipeline(t, testConfig())

	resp, err := c.Score(context.Background(), &models.TransactionRequest{
		TransactionID:   "scenario-7",
		TransactionType: models.TypePay,
	}, "req-7")
	require.NoError(t, err)

	assert.Equal(t, models.ActionAllow, resp.Action)
	assert.Empty(t, resp.Reasons)
	assert.Zero(t, queue.count())
}

func TestScoringIsDeterministic(t *testing.T) {
	c, _ := fullPipeline(t, testConfig())

	req := &models.TransactionRequest{
		TransactionID:   "scenario-8",
		PayerVPA:        "a@bank",
		PayeeVPA:        "b@bank",
		Amount:          900,
		Message:         "urgent refund verify",
		TransactionType: models.TypePay,
	}

	first, err := c.Score(context.Background(), req, "req-8a")
	require.NoError(t, err)

	// Distinct transaction so neither the cache nor the queue memoizes.
	req2 := *req
	req2.TransactionID = "scenario-8b"
	second, err := c.Score(context.Background(), &req2, "req-8b")
	require.NoError(t, err)

	assert.Equal(t, first.TrustScore, second.TrustScore)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Subscores, second.Subscores)
}
