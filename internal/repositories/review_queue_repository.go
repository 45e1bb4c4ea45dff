package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/trustpay/screening-engine/internal/models"
)

var (
	// ErrReviewNotFound is returned for an unknown transaction id.
	ErrReviewNotFound = errors.New("review entry not found")

	// ErrAlreadyReviewed is returned when an analyst decision already
	// exists; the first decision is immutable.
	ErrAlreadyReviewed = errors.New("review already submitted")
)

// ReviewQueueRepository handles review_queue database operations.
type ReviewQueueRepository struct {
	db *Database
}

// NewReviewQueueRepository creates a new review queue repository.
func NewReviewQueueRepository(db *Database) *ReviewQueueRepository {
	return &ReviewQueueRepository{db: db}
}

const reviewColumns = `
	id, transaction_id, trust_score, priority, request_json, subscores_json,
	rule_hits, sla_deadline, created_at, reviewed, analyst_id, decision,
	feedback_text, reviewed_at
`

// Enqueue inserts a review entry. Idempotent on transaction_id: a second
// enqueue returns the existing row unchanged.
func (r *ReviewQueueRepository) Enqueue(ctx context.Context, entry *models.ReviewQueueEntry) (*models.ReviewQueueEntry, error) {
	query := `
		INSERT INTO review_queue (
			id, transaction_id, trust_score, priority, request_json,
			subscores_json, rule_hits, sla_deadline, created_at, reviewed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	requestBytes, _ := entry.Request.Value()
	subscoresBytes, _ := entry.Subscores.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.TransactionID,
		entry.TrustScore,
		entry.Priority,
		requestBytes,
		subscoresBytes,
		pq.Array(entry.RuleHits),
		entry.SLADeadline,
		entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Conflict or not, the canonical row is whatever the table holds.
	return r.GetByTransactionID(ctx, entry.TransactionID)
}

// GetByTransactionID retrieves a review entry by transaction id.
func (r *ReviewQueueRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE transaction_id = $1`

	entry, err := scanReview(r.db.Pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListPending returns unreviewed entries, newest first.
func (r *ReviewQueueRepository) ListPending(ctx context.Context, limit int) ([]*models.ReviewQueueEntry, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_queue
		WHERE reviewed = false
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReviews(rows)
}

// ListOverdue returns unreviewed entries whose SLA deadline has passed,
// most overdue first.
func (r *ReviewQueueRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.ReviewQueueEntry, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_queue
		WHERE reviewed = false AND sla_deadline < $1
		ORDER BY sla_deadline ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReviews(rows)
}

// ListReviewed returns entries with an analyst verdict since the given
// time, newest first (backtest path).
func (r *ReviewQueueRepository) ListReviewed(ctx context.Context, since time.Time, limit int) ([]*models.ReviewQueueEntry, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_queue
		WHERE reviewed = true AND created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReviews(rows)
}

// CountPending returns the number of unreviewed entries.
func (r *ReviewQueueRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM review_queue WHERE reviewed = false`).Scan(&count)
	return count, err
}

// EscalatePriority raises an entry's priority (SLA monitor path). The
// reviewed flag guards against racing a concurrent analyst decision.
func (r *ReviewQueueRepository) EscalatePriority(ctx context.Context, transactionID, newPriority string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE review_queue SET priority = $1 WHERE transaction_id = $2 AND reviewed = false`,
		newPriority, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// SubmitDecision records the analyst verdict and appends the feedback row in
// one transaction: either both land or neither does. Idempotency: the first
// call wins, later calls fail with ErrAlreadyReviewed.
//
// warnThreshold is the configured WARN band lower bound, used to derive
// whether the model's original call agreed with the analyst.
func (r *ReviewQueueRepository) SubmitDecision(ctx context.Context, transactionID, analystID, decision, feedbackText string, warnThreshold int) (*models.FeedbackRecord, error) {
	var record *models.FeedbackRecord

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, trust_score, subscores_json, reviewed FROM review_queue WHERE transaction_id = $1 FOR UPDATE`,
			transactionID)

		var entryID uuid.UUID
		var trustScore int
		var subscoresBytes []byte
		var reviewed bool
		if err := row.Scan(&entryID, &trustScore, &subscoresBytes, &reviewed); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrReviewNotFound
			}
			return err
		}
		if reviewed {
			return ErrAlreadyReviewed
		}

		now := time.Now()
		_, err := tx.Exec(ctx, `
			UPDATE review_queue
			SET reviewed = true, analyst_id = $1, decision = $2, feedback_text = $3, reviewed_at = $4
			WHERE transaction_id = $5
		`, analystID, decision, feedbackText, now, transactionID)
		if err != nil {
			return err
		}

		correctLabel := 0
		if decision == models.ReviewReject || decision == models.ReviewEscalate {
			correctLabel = 1
		}
		// The model called fraud iff the original score fell below the WARN
		// band.
		modelCalledFraud := trustScore < warnThreshold
		modelWasCorrect := modelCalledFraud == (correctLabel == 1)

		var subscores models.JSONB
		_ = subscores.Scan(subscoresBytes)

		record = &models.FeedbackRecord{
			ID:                 uuid.New(),
			TransactionID:      transactionID,
			OriginalTrustScore: trustScore,
			OriginalSubscores:  subscores,
			AnalystDecision:    decision,
			CorrectLabel:       correctLabel,
			ModelWasCorrect:    modelWasCorrect,
			CreatedAt:          now,
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO feedback_log (
				id, transaction_id, original_trust_score, original_subscores_json,
				analyst_decision, correct_label, model_was_correct,
				used_for_retraining, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		`,
			record.ID,
			record.TransactionID,
			record.OriginalTrustScore,
			subscoresBytes,
			record.AnalystDecision,
			record.CorrectLabel,
			record.ModelWasCorrect,
			record.CreatedAt,
		)
		return err
	})

	if err != nil {
		return nil, err
	}
	return record, nil
}

func scanReview(row pgx.Row) (*models.ReviewQueueEntry, error) {
	entry := &models.ReviewQueueEntry{}
	var requestBytes, subscoresBytes []byte

	err := row.Scan(
		&entry.ID,
		&entry.TransactionID,
		&entry.TrustScore,
		&entry.Priority,
		&requestBytes,
		&subscoresBytes,
		&entry.RuleHits,
		&entry.SLADeadline,
		&entry.CreatedAt,
		&entry.Reviewed,
		&entry.AnalystID,
		&entry.Decision,
		&entry.FeedbackText,
		&entry.ReviewedAt,
	)
	if err != nil {
		return nil, err
	}

	_ = entry.Request.Scan(requestBytes)
	_ = entry.Subscores.Scan(subscoresBytes)
	return entry, nil
}

func scanReviews(rows pgx.Rows) ([]*models.ReviewQueueEntry, error) {
	var entries []*models.ReviewQueueEntry
	for rows.Next() {
		entry, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
