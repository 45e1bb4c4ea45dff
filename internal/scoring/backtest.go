package scoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/detectors"
	"github.com/trustpay/screening-engine/internal/models"
)

// ReviewedLister is the slice of the review repository the backtester needs.
type ReviewedLister interface {
	ListReviewed(ctx context.Context, since time.Time, limit int) ([]*models.ReviewQueueEntry, error)
}

// BacktestRequest selects the replay window.
type BacktestRequest struct {
	Since      time.Time `json:"since"`
	SampleSize int       `json:"sample_size"`
}

// BacktestResult compares fresh pipeline output against analyst verdicts.
type BacktestResult struct {
	Sampled        int     `json:"sampled"`
	Agreements     int     `json:"agreements"`
	FalsePositives int     `json:"false_positives"` // pipeline called fraud, analyst approved
	FalseNegatives int     `json:"false_negatives"` // pipeline called safe, analyst rejected
	Accuracy       float64 `json:"accuracy"`
	DurationMs     int64   `json:"duration_ms"`
}

// BacktestService replays reviewed requests through the current detectors
// and aggregator to measure drift against analyst ground truth.
type BacktestService struct {
	detectors []detectors.Detector
	screening *configs.ScreeningStore
	reviews   ReviewedLister
}

// NewBacktestService creates a backtest service.
func NewBacktestService(dets []detectors.Detector, screening *configs.ScreeningStore, reviews ReviewedLister) *BacktestService {
	return &BacktestService{
		detectors: dets,
		screening: screening,
		reviews:   reviews,
	}
}

// Run replays up to SampleSize reviewed entries. Entries whose stored
// request no longer deserializes are skipped.
func (s *BacktestService) Run(ctx context.Context, req *BacktestRequest) (*BacktestResult, error) {
	startTime := time.Now()
	cfg := s.screening.Current()

	entries, err := s.reviews.ListReviewed(ctx, req.Since, req.SampleSize)
	if err != nil {
		return nil, err
	}

	result := &BacktestResult{}
	now := time.Now()

	for _, entry := range entries {
		if entry.Decision == nil {
			continue
		}

		request, ok := decodeRequest(entry.Request)
		if !ok {
			log.Warn().Str("transaction_id", entry.TransactionID).Msg("Skipping backtest entry with undecodable request")
			continue
		}

		subscores := make([]models.Subscore, 0, len(s.detectors))
		for _, d := range s.detectors {
			subscores = append(subscores, d.Score(request, cfg, now))
		}
		decision := Aggregate(subscores, cfg, now)

		pipelineCalledFraud := decision.TrustScore < cfg.WarnThreshold
		analystCalledFraud := *entry.Decision == models.ReviewReject || *entry.Decision == models.ReviewEscalate

		result.Sampled++
		switch {
		case pipelineCalledFraud == analystCalledFraud:
			result.Agreements++
		case pipelineCalledFraud:
			result.FalsePositives++
		default:
			result.FalseNegatives++
		}
	}

	if result.Sampled > 0 {
		result.Accuracy = float64(result.Agreements) / float64(result.Sampled)
	}
	result.DurationMs = time.Since(startTime).Milliseconds()

	log.Info().
		Int("sampled", result.Sampled).
		Float64("accuracy", result.Accuracy).
		Int64("duration_ms", result.DurationMs).
		Msg("Backtest completed")

	return result, nil
}

func decodeRequest(stored models.JSONB) (*models.TransactionRequest, bool) {
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, false
	}
	var req models.TransactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.TransactionID == "" {
		return nil, false
	}
	return &req, true
}
