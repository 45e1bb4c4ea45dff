// Package analytics aggregates screening activity for dashboards.
package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trustpay/screening-engine/internal/models"
	"github.com/trustpay/screening-engine/internal/repositories"
)

// Summary is the screening activity rollup served to dashboards.
type Summary struct {
	Since              string           `json:"since"`
	ActionDistribution map[string]int   `json:"action_distribution"`
	PendingReviews     int              `json:"pending_reviews"`
	OverdueReviews     int              `json:"overdue_reviews"`
	TopRules           []RuleCount      `json:"top_rules"`
	ModelAccuracy      *float64         `json:"model_accuracy,omitempty"`
	FeedbackCount      int              `json:"feedback_count"`
	PriorityBreakdown  map[string]int   `json:"priority_breakdown"`
}

// RuleCount is one rule token and how often it fired on queued reviews.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// AnalyticsService computes screening summaries.
type AnalyticsService struct {
	db           *repositories.Database
	reviewRepo   *repositories.ReviewQueueRepository
	feedbackRepo *repositories.FeedbackRepository
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(db *repositories.Database, reviewRepo *repositories.ReviewQueueRepository, feedbackRepo *repositories.FeedbackRepository) *AnalyticsService {
	return &AnalyticsService{
		db:           db,
		reviewRepo:   reviewRepo,
		feedbackRepo: feedbackRepo,
	}
}

// GetSummary aggregates activity over the trailing window.
func (s *AnalyticsService) GetSummary(ctx context.Context, window time.Duration) (*Summary, error) {
	since := time.Now().Add(-window)

	summary := &Summary{
		Since:              since.Format(time.RFC3339),
		ActionDistribution: make(map[string]int),
		PriorityBreakdown:  make(map[string]int),
	}

	// Terminal actions come from the decision audit trail.
	rows, err := s.db.Pool.Query(ctx, `
		SELECT action, COUNT(*)
		FROM audit_log
		WHERE event_type = $1 AND created_at >= $2
		GROUP BY action
	`, models.AuditEventDecision, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		summary.ActionDistribution[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pending, err := s.reviewRepo.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	summary.PendingReviews = pending

	overdue, err := s.reviewRepo.ListOverdue(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	summary.OverdueReviews = len(overdue)

	priorityRows, err := s.db.Pool.Query(ctx, `
		SELECT priority, COUNT(*)
		FROM review_queue
		WHERE reviewed = false
		GROUP BY priority
	`)
	if err != nil {
		return nil, err
	}
	defer priorityRows.Close()

	for priorityRows.Next() {
		var priority string
		var count int
		if err := priorityRows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		summary.PriorityBreakdown[priority] = count
	}
	if err := priorityRows.Err(); err != nil {
		return nil, err
	}

	topRules, err := s.topTriggeredRules(ctx, since, 10)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to compute top triggered rules")
	} else {
		summary.TopRules = topRules
	}

	total, correct, err := s.feedbackRepo.AccuracyStats(ctx)
	if err != nil {
		return nil, err
	}
	summary.FeedbackCount = total
	if total > 0 {
		accuracy := float64(correct) / float64(total)
		summary.ModelAccuracy = &accuracy
	}

	return summary, nil
}

// topTriggeredRules unnests the rule_hits arrays on queued reviews.
func (s *AnalyticsService) topTriggeredRules(ctx context.Context, since time.Time, limit int) ([]RuleCount, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT unnest(rule_hits) AS rule, COUNT(*) AS count
		FROM review_queue
		WHERE created_at >= $1
		GROUP BY rule
		ORDER BY count DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleCount
	for rows.Next() {
		var rc RuleCount
		if err := rows.Scan(&rc.Rule, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
