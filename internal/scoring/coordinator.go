package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/configs"
	"github.com/trustpay/screening-engine/internal/detectors"
	"github.com/trustpay/screening-engine/internal/metrics"
	"github.com/trustpay/screening-engine/internal/models"
)

var (
	// ErrInvalidRequest marks a malformed scoring request, surfaced to the
	// caller with a stable code.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStorageUnavailable marks a persistence failure that survived all
	// retries. Scoring degrades rather than failing on it.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ReasonEnqueueFailed is appended when a review was intended but could not
// be persisted.
const ReasonEnqueueFailed = "review_enqueue_failed"

var enqueueBackoff = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 800 * time.Millisecond}

// ReviewEnqueuer persists a review-queue entry. Enqueue is idempotent on
// transaction id and returns the canonical row.
type ReviewEnqueuer interface {
	Enqueue(ctx context.Context, entry *models.ReviewQueueEntry) (*models.ReviewQueueEntry, error)
}

// DecisionCache memoizes complete responses by transaction id. A miss is
// (nil, nil).
type DecisionCache interface {
	GetResponse(ctx context.Context, transactionID string) (*models.ScoreResponse, error)
	SetResponse(ctx context.Context, transactionID string, resp *models.ScoreResponse) error
}

// AuditRecorder appends an audit row. Failures never fail the request.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// EventPublisher announces queue activity on the review stream.
type EventPublisher interface {
	PublishReviewEvent(ctx context.Context, event *models.ReviewEvent) error
}

// Coordinator orchestrates one scoring request: extractors and detectors in
// parallel, aggregation, HITL, explanation, response assembly. It never
// fails a request because a detector, a timeout, or a persistence hiccup
// occurred.
type Coordinator struct {
	detectors []detectors.Detector
	screening *configs.ScreeningStore
	queue     ReviewEnqueuer
	cache     DecisionCache
	audit     AuditRecorder
	events    EventPublisher
	explainer *Explainer

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewCoordinator wires the scoring pipeline. cache, audit and events may be
// nil; queue may be nil only when HITL is disabled.
func NewCoordinator(
	dets []detectors.Detector,
	screening *configs.ScreeningStore,
	queue ReviewEnqueuer,
	cache DecisionCache,
	audit AuditRecorder,
	events EventPublisher,
	explainer *Explainer,
) *Coordinator {
	return &Coordinator{
		detectors: dets,
		screening: screening,
		queue:     queue,
		cache:     cache,
		audit:     audit,
		events:    events,
		explainer: explainer,
		now:       time.Now,
	}
}

// Score runs the full pipeline for one request.
func (c *Coordinator) Score(ctx context.Context, req *models.TransactionRequest, requestID string) (*models.ScoreResponse, error) {
	startTime := c.now()

	if err := validate(req); err != nil {
		return nil, err
	}

	// A transaction already decided returns its original response, which
	// also preserves review_id across client retries.
	if c.cache != nil {
		if cached, err := c.cache.GetResponse(ctx, req.TransactionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	cfg := c.screening.Current()
	now := c.now()

	subscores, err := c.runDetectors(ctx, req, cfg, now)
	if err != nil {
		return nil, err
	}

	decision := Aggregate(subscores, cfg, now)

	var reviewID *string
	enqueueFailed := false

	hitl := EvaluateHITL(&decision, req.Amount, cfg)
	if hitl.Required {
		// Abandoned callers must not leave queue entries behind.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision.Action = models.ActionHumanReview
		entry, err := c.enqueueWithRetry(ctx, req, &decision, hitl, now)
		if err != nil {
			enqueueFailed = true
			metrics.EnqueueFailures.Inc()
			log.Error().Err(err).
				Str("transaction_id", req.TransactionID).
				Msg("Failed to enqueue review after retries")
		} else {
			id := entry.ID.String()
			reviewID = &id
			metrics.ReviewsEnqueued.WithLabelValues(entry.Priority).Inc()
		}
	}

	explanation := c.explainer.Explain(req, &decision, cfg, now)
	if enqueueFailed {
		explanation.Reasons = append(explanation.Reasons, ReasonEnqueueFailed)
	}

	resp := assembleResponse(req, &decision, &explanation, reviewID)

	if c.cache != nil && !enqueueFailed {
		if err := c.cache.SetResponse(ctx, req.TransactionID, resp); err != nil {
			log.Warn().Err(err).Str("transaction_id", req.TransactionID).Msg("Failed to cache decision")
		}
	}

	c.auditDecision(ctx, req, &decision, requestID)

	elapsed := c.now().Sub(startTime)
	metrics.RequestsScreened.WithLabelValues(decision.Action).Inc()
	metrics.ScoringDuration.Observe(elapsed.Seconds())

	log.Info().
		Str("transaction_id", req.TransactionID).
		Int("trust_score", decision.TrustScore).
		Str("action", decision.Action).
		Str("risk_level", explanation.RiskLevel).
		Dur("processing_time", elapsed).
		Msg("Transaction screened")

	return resp, nil
}

// IsHealthy reports whether the pipeline can serve decisions: every detector
// is model-backed (or degraded rule-only mode is allowed by config).
func (c *Coordinator) IsHealthy() bool {
	cfg := c.screening.Current()
	if cfg.AllowDegraded {
		return true
	}
	for _, d := range c.detectors {
		if !d.IsReady() {
			return false
		}
	}
	return true
}

// DegradedDetectors lists detectors currently running rule-only.
func (c *Coordinator) DegradedDetectors() []string {
	var out []string
	for _, d := range c.detectors {
		if !d.IsReady() {
			out = append(out, d.ID())
		}
	}
	return out
}

func validate(req *models.TransactionRequest) error {
	if req.TransactionID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidRequest)
	}
	if len(req.TransactionID) > 128 {
		return fmt.Errorf("%w: transaction_id exceeds 128 characters", ErrInvalidRequest)
	}
	if req.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidRequest)
	}
	switch req.TransactionType {
	case "", models.TypePay, models.TypeCollect, models.TypeQRPay:
	default:
		return fmt.Errorf("%w: unknown transaction_type %q", ErrInvalidRequest, req.TransactionType)
	}
	return nil
}

// runDetectors launches the four detectors concurrently and collects either
// a real subscore or a neutral substitute per detector. No subscore ever
// blocks past the per-detector deadline.
func (c *Coordinator) runDetectors(ctx context.Context, req *models.TransactionRequest, cfg *configs.ScreeningConfig, now time.Time) ([]models.Subscore, error) {
	type result struct {
		idx int
		sub models.Subscore
	}

	n := len(c.detectors)
	ch := make(chan result, n)

	for i, d := range c.detectors {
		go func(i int, d detectors.Detector) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("detector", d.ID()).Msg("Detector panicked")
					ch <- result{i, detectors.Neutral(d.ID(), models.RuleDetectorUnavailable)}
				}
			}()
			ch <- result{i, d.Score(req, cfg, now)}
		}(i, d)
	}

	subscores := make([]models.Subscore, n)
	received := make([]bool, n)
	collected := 0

	timer := time.NewTimer(cfg.PerDetectorDeadline)
	defer timer.Stop()

	for collected < n {
		select {
		case r := <-ch:
			if !received[r.idx] {
				subscores[r.idx] = r.sub
				received[r.idx] = true
				collected++
			}
		case <-timer.C:
			for i, d := range c.detectors {
				if !received[i] {
					subscores[i] = detectors.Neutral(d.ID(), models.RuleTimeout)
					received[i] = true
					collected++
					metrics.DetectorTimeouts.WithLabelValues(d.ID()).Inc()
					log.Warn().Str("detector", d.ID()).Msg("Detector deadline missed, substituting neutral subscore")
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return subscores, nil
}

// enqueueWithRetry persists the review entry, retrying transient storage
// failures with exponential backoff.
func (c *Coordinator) enqueueWithRetry(ctx context.Context, req *models.TransactionRequest, decision *models.Decision, hitl HITLResult, now time.Time) (*models.ReviewQueueEntry, error) {
	if c.queue == nil {
		return nil, fmt.Errorf("%w: no review store configured", ErrStorageUnavailable)
	}

	subscoreMap := make(map[string]interface{}, len(decision.Subscores))
	var ruleHits []string
	for _, s := range decision.Subscores {
		subscoreMap[s.Detector] = s
		ruleHits = append(ruleHits, s.RuleHits...)
	}

	entry := &models.ReviewQueueEntry{
		ID:            uuid.New(),
		TransactionID: req.TransactionID,
		TrustScore:    decision.TrustScore,
		Priority:      hitl.Priority,
		Request:       models.ToJSONB(req),
		Subscores:     models.ToJSONB(subscoreMap),
		RuleHits:      ruleHits,
		SLADeadline:   now.Add(hitl.SLA),
		CreatedAt:     now,
	}

	var lastErr error
	for attempt := 0; attempt <= len(enqueueBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(enqueueBackoff[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		canonical, err := c.queue.Enqueue(ctx, entry)
		if err == nil {
			c.publishReviewEvent(ctx, canonical, "enqueued")
			return canonical, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, lastErr)
}

func (c *Coordinator) publishReviewEvent(ctx context.Context, entry *models.ReviewQueueEntry, eventType string) {
	if c.events == nil {
		return
	}
	event := &models.ReviewEvent{
		EventType:     eventType,
		TransactionID: entry.TransactionID,
		ReviewID:      entry.ID.String(),
		Priority:      entry.Priority,
		TrustScore:    entry.TrustScore,
		SLADeadline:   entry.SLADeadline,
		Timestamp:     c.now(),
	}
	if err := c.events.PublishReviewEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("transaction_id", entry.TransactionID).Msg("Failed to publish review event")
	}
}

func (c *Coordinator) auditDecision(ctx context.Context, req *models.TransactionRequest, decision *models.Decision, requestID string) {
	if c.audit == nil {
		return
	}
	entry := &models.AuditLog{
		EventType:  models.AuditEventDecision,
		EntityID:   req.TransactionID,
		EntityType: "transaction",
		Action:     decision.Action,
		RequestID:  requestID,
		Payload: models.JSONB{
			"trust_score": decision.TrustScore,
			"amount":      req.Amount,
			"type":        req.TransactionType,
		},
	}
	if err := c.audit.Record(ctx, entry); err != nil {
		log.Warn().Err(err).Str("transaction_id", req.TransactionID).Msg("Failed to write audit log")
	}
}

func assembleResponse(req *models.TransactionRequest, decision *models.Decision, explanation *models.Explanation, reviewID *string) *models.ScoreResponse {
	probs := make(map[string]float64, len(decision.Subscores))
	for _, s := range decision.Subscores {
		probs[s.Detector] = s.Probability
	}

	reasons := explanation.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	importance := explanation.FeatureImportance
	if importance == nil {
		importance = []models.FeatureImportance{}
	}

	return &models.ScoreResponse{
		TransactionID:     req.TransactionID,
		TrustScore:        decision.TrustScore,
		Action:            decision.Action,
		Subscores:         probs,
		Reasons:           reasons,
		RiskBreakdown:     explanation.RiskBreakdown,
		FeatureImportance: importance,
		RiskLevel:         explanation.RiskLevel,
		ReviewID:          reviewID,
	}
}
