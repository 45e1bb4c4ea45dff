package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/trustpay/screening-engine/internal/models"
)

// FeedbackRepository handles feedback_log database operations. Rows are
// created by ReviewQueueRepository.SubmitDecision inside the same
// transaction as the queue update; this repository serves the retraining
// export side. Rows are never deleted.
type FeedbackRepository struct {
	db *Database
}

// NewFeedbackRepository creates a new feedback repository.
func NewFeedbackRepository(db *Database) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

const feedbackColumns = `
	id, transaction_id, original_trust_score, original_subscores_json,
	analyst_decision, correct_label, model_was_correct, used_for_retraining,
	created_at
`

// PendingFeedback returns unexported feedback rows, newest first, capped at
// 2*minSamples. Fewer than minSamples pending rows yields an empty batch:
// not enough signal to justify a retraining run.
func (r *FeedbackRepository) PendingFeedback(ctx context.Context, minSamples int) ([]*models.FeedbackRecord, error) {
	query := `
		SELECT ` + feedbackColumns + `
		FROM feedback_log
		WHERE used_for_retraining = false
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, 2*minSamples)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanFeedback(rows)
	if err != nil {
		return nil, err
	}
	if len(records) < minSamples {
		return nil, nil
	}
	return records, nil
}

// MarkUsed flips used_for_retraining for the given transaction ids after the
// exporter has snapshotted them.
func (r *FeedbackRepository) MarkUsed(ctx context.Context, transactionIDs []string) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE feedback_log SET used_for_retraining = true WHERE transaction_id = ANY($1)`,
		transactionIDs)
	return err
}

// GetByTransactionID returns the feedback row for a transaction, nil when
// none exists yet.
func (r *FeedbackRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.FeedbackRecord, error) {
	query := `SELECT ` + feedbackColumns + ` FROM feedback_log WHERE transaction_id = $1`

	rows, err := r.db.Pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanFeedback(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// AccuracyStats returns how often the model's call agreed with the analyst.
func (r *FeedbackRepository) AccuracyStats(ctx context.Context) (total, correct int, err error) {
	err = r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN model_was_correct THEN 1 END)
		FROM feedback_log
	`).Scan(&total, &correct)
	return total, correct, err
}

func scanFeedback(rows pgx.Rows) ([]*models.FeedbackRecord, error) {
	var records []*models.FeedbackRecord
	for rows.Next() {
		record := &models.FeedbackRecord{}
		var subscoresBytes []byte

		if err := rows.Scan(
			&record.ID,
			&record.TransactionID,
			&record.OriginalTrustScore,
			&subscoresBytes,
			&record.AnalystDecision,
			&record.CorrectLabel,
			&record.ModelWasCorrect,
			&record.UsedForRetraining,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}

		_ = record.OriginalSubscores.Scan(subscoresBytes)
		records = append(records, record)
	}
	return records, rows.Err()
}
