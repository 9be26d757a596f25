package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/unilearn/faceid/internal/descriptor"
	"github.com/unilearn/faceid/internal/store"
)

// EnrollmentRepository provides PostgreSQL-backed descriptor storage. Rows
// keep the capture order of the enrollment batch in the position column.
type EnrollmentRepository struct {
	pool *Pool
}

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository.
func NewEnrollmentRepository(pool *Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// Replace atomically swaps the user's descriptor set for a new one.
func (r *EnrollmentRepository) Replace(ctx context.Context, userID uuid.UUID, descriptors []descriptor.Descriptor) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM face_samples WHERE user_id = $1", userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear samples: %w", err)
	}

	query := `
		INSERT INTO face_samples (user_id, position, descriptor)
		VALUES ($1, $2, $3)
	`
	for i, d := range descriptors {
		vec := pgvector.NewVector([]float32(d))
		if _, err := tx.ExecContext(ctx, query, userID, i, vec); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// ListByUser returns the user's samples in capture order.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]store.EnrollmentSample, error) {
	query := `
		SELECT id, user_id, position, descriptor, created_at
		FROM face_samples
		WHERE user_id = $1
		ORDER BY position
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

func (r *EnrollmentRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM face_samples WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	return nil
}

func (r *EnrollmentRepository) HasEnrollment(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM face_samples WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return exists, nil
}

// All returns every stored sample, used to build the face login index at
// startup.
func (r *EnrollmentRepository) All(ctx context.Context) ([]store.EnrollmentSample, error) {
	query := `
		SELECT id, user_id, position, descriptor, created_at
		FROM face_samples
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]store.EnrollmentSample, error) {
	var samples []store.EnrollmentSample
	for rows.Next() {
		var s store.EnrollmentSample
		var vec pgvector.Vector
		if err := rows.Scan(&s.ID, &s.UserID, &s.Position, &vec, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.Descriptor = descriptor.Descriptor(vec.Slice())
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}
