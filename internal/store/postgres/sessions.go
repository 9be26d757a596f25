package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/store"
)

// SessionRepository provides PostgreSQL-backed session storage.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository.
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Save upserts a session.
func (r *SessionRepository) Save(ctx context.Context, rec *store.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, user_id, email, display_name, verification_state,
			attempts_remaining, face_login_attempts, face_login_window_start,
			created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			verification_state = EXCLUDED.verification_state,
			attempts_remaining = EXCLUDED.attempts_remaining,
			face_login_attempts = EXCLUDED.face_login_attempts,
			face_login_window_start = EXCLUDED.face_login_window_start,
			expires_at = EXCLUDED.expires_at
	`

	userID := uuid.NullUUID{UUID: rec.UserID, Valid: rec.UserID != uuid.Nil}
	windowStart := sql.NullTime{Time: rec.FaceLoginWindowStart, Valid: !rec.FaceLoginWindowStart.IsZero()}

	_, err := r.pool.Exec(ctx, query,
		rec.ID, userID, rec.Email, rec.DisplayName, rec.VerificationState,
		rec.AttemptsRemaining, rec.FaceLoginAttempts, windowStart,
		rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID; expired sessions count as missing.
func (r *SessionRepository) Get(ctx context.Context, id string) (*store.SessionRecord, error) {
	query := `
		SELECT id, user_id, email, display_name, verification_state,
			attempts_remaining, face_login_attempts, face_login_window_start,
			created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > NOW()
	`

	var rec store.SessionRecord
	var userID uuid.NullUUID
	var windowStart sql.NullTime
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &userID, &rec.Email, &rec.DisplayName, &rec.VerificationState,
		&rec.AttemptsRemaining, &rec.FaceLoginAttempts, &windowStart,
		&rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if userID.Valid {
		rec.UserID = userID.UUID
	}
	if windowStart.Valid {
		rec.FaceLoginWindowStart = windowStart.Time
	}
	return &rec, nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes all expired sessions and returns the count deleted.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= NOW()")
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}
