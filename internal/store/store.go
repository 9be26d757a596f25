package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/descriptor"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is an account that can enroll a face.
type User struct {
	ID           uuid.UUID
	Email        string
	DisplayName  string
	PasswordHash string
	FaceEnabled  bool
	CreatedAt    time.Time
}

// EnrollmentSample is one stored face descriptor. Position preserves the
// capture order of the enrollment batch.
type EnrollmentSample struct {
	ID         int64
	UserID     uuid.UUID
	Position   int
	Descriptor descriptor.Descriptor
	CreatedAt  time.Time
}

// AuditEntry records one face verification event.
type AuditEntry struct {
	ID        int64
	UserID    uuid.UUID
	Event     string
	Detail    string
	CreatedAt time.Time
}

// Audit event names.
const (
	EventEnrolled         = "enrolled"
	EventVerifySuccess    = "verify_success"
	EventVerifyFailure    = "verify_failure"
	EventVerifySkipped    = "verify_skipped"
	EventFaceLoginSuccess = "face_login_success"
	EventFaceLoginFailure = "face_login_failure"
	EventDisabled         = "disabled"
)

// UserStore manages accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	SetFaceEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// EnrollmentStore manages face descriptor sets. Replace swaps the whole set
// atomically; ListByUser returns samples in capture order.
type EnrollmentStore interface {
	Replace(ctx context.Context, userID uuid.UUID, descriptors []descriptor.Descriptor) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentSample, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	HasEnrollment(ctx context.Context, userID uuid.UUID) (bool, error)
	All(ctx context.Context) ([]EnrollmentSample, error)
}

// AuditStore records verification events.
type AuditStore interface {
	Record(ctx context.Context, userID uuid.UUID, event, detail string) error
	RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]AuditEntry, error)
}

// SessionRecord is the persisted form of a web session. VerificationState is
// the gate state enum stored as a plain integer.
type SessionRecord struct {
	ID                   string
	UserID               uuid.UUID // uuid.Nil for anonymous sessions
	Email                string
	DisplayName          string
	VerificationState    int
	AttemptsRemaining    int
	FaceLoginAttempts    int
	FaceLoginWindowStart time.Time
	CreatedAt            time.Time
	ExpiresAt            time.Time
}

// SessionStore persists sessions so they survive a server restart. Get
// returns ErrNotFound for missing or expired sessions.
type SessionStore interface {
	Save(ctx context.Context, rec *SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Store bundles the repositories behind one handle.
type Store struct {
	Users       UserStore
	Enrollments EnrollmentStore
	Audit       AuditStore
	Sessions    SessionStore
}
