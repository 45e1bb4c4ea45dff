package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trustpay/screening-engine/internal/models"
)

// AuditRepository handles audit trail database operations.
type AuditRepository struct {
	db *Database
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record creates a new audit log entry.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_log (
			id, event_type, entity_id, entity_type, action, payload,
			request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()

	payloadBytes, _ := entry.Payload.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.EventType,
		entry.EntityID,
		entry.EntityType,
		entry.Action,
		payloadBytes,
		entry.RequestID,
		entry.CreatedAt,
	)

	return err
}

// ListByEntity retrieves recent audit entries for one entity, newest first.
func (r *AuditRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, entity_id, entity_type, action, payload,
			   request_id, created_at
		FROM audit_log
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		var payloadBytes []byte

		if err := rows.Scan(
			&entry.ID,
			&entry.EventType,
			&entry.EntityID,
			&entry.EntityType,
			&entry.Action,
			&payloadBytes,
			&entry.RequestID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		_ = entry.Payload.Scan(payloadBytes)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
