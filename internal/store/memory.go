package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/descriptor"
)

// MemoryStore is an in-memory Store implementation used by tests and by the
// server's no-database mode.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*User
	enrollments map[uuid.UUID][]EnrollmentSample
	audit       []AuditEntry
	sessions    map[string]*SessionRecord
	nextSample  int64
	nextAudit   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *Store {
	m := &MemoryStore{
		users:       make(map[uuid.UUID]*User),
		enrollments: make(map[uuid.UUID][]EnrollmentSample),
		sessions:    make(map[string]*SessionRecord),
	}
	return &Store{Users: m, Enrollments: m, Audit: m, Sessions: m}
}

func (m *MemoryStore) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetFaceEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FaceEnabled = enabled
	return nil
}

func (m *MemoryStore) Replace(ctx context.Context, userID uuid.UUID, descriptors []descriptor.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := make([]EnrollmentSample, len(descriptors))
	now := time.Now()
	for i, d := range descriptors {
		m.nextSample++
		cp := make(descriptor.Descriptor, len(d))
		copy(cp, d)
		samples[i] = EnrollmentSample{
			ID:         m.nextSample,
			UserID:     userID,
			Position:   i,
			Descriptor: cp,
			CreatedAt:  now,
		}
	}
	m.enrollments[userID] = samples
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples := m.enrollments[userID]
	out := make([]EnrollmentSample, len(samples))
	copy(out, samples)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enrollments, userID)
	return nil
}

func (m *MemoryStore) HasEnrollment(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.enrollments[userID]) > 0, nil
}

func (m *MemoryStore) All(ctx context.Context) ([]EnrollmentSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EnrollmentSample
	for _, samples := range m.enrollments {
		out = append(out, samples...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Record(ctx context.Context, userID uuid.UUID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAudit++
	m.audit = append(m.audit, AuditEntry{
		ID:        m.nextAudit,
		UserID:    userID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.sessions[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok || time.Now().After(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for id, rec := range m.sessions {
		if now.After(rec.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) RecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditEntry
	for i := len(m.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.audit[i].UserID == userID {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}
