package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/store"
)

// AuditRepository provides PostgreSQL-backed audit log storage.
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Record(ctx context.Context, userID uuid.UUID, event, detail string) error {
	query := `
		INSERT INTO face_audit_log (user_id, event, detail)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, query, userID, event, detail); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, event, detail, created_at
		FROM face_audit_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
