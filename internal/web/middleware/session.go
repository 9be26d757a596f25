package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unilearn/faceid/internal/gate"
	"github.com/unilearn/faceid/internal/store"
)

const (
	sessionCookieName = "faceid_session"
	sessionDuration   = 24 * time.Hour
)

// Session represents a user session. A session may exist before
// authentication: face login records its attempt counter on the anonymous
// session, so the rate limit survives a failed login.
type Session struct {
	ID          string
	UserID      uuid.UUID // uuid.Nil until authenticated
	Email       string
	DisplayName string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Verification is the face gate state for this session.
	Verification gate.Verification

	// Face login rate limiting.
	FaceLoginAttempts    int
	FaceLoginWindowStart time.Time
}

// Authenticated reports whether a user is logged in on this session.
func (s *Session) Authenticated() bool {
	return s.UserID != uuid.Nil
}

// SessionManager handles session creation and validation. Cookies carry the
// session ID signed with an HMAC secret; session state lives server side.
type SessionManager struct {
	secret   []byte
	sessions map[string]*Session
	mu       sync.RWMutex

	persist    store.SessionStore
	persistErr func(error)
}

// NewSessionManager creates a new session manager.
func NewSessionManager(secret string) *SessionManager {
	// Use a default secret if none provided (for development).
	if secret == "" {
		secret = "faceid-dev-secret-change-in-production"
	}
	return &SessionManager{
		secret:   []byte(secret),
		sessions: make(map[string]*Session),
	}
}

// AttachStore enables write-through session persistence so sessions survive a
// server restart. The in-memory map stays authoritative for live traffic;
// persistence failures go to onErr and never block the request.
func (sm *SessionManager) AttachStore(st store.SessionStore, onErr func(error)) {
	sm.mu.Lock()
	sm.persist = st
	sm.persistErr = onErr
	sm.mu.Unlock()
}

func recordFromSession(s *Session) *store.SessionRecord {
	return &store.SessionRecord{
		ID:                   s.ID,
		UserID:               s.UserID,
		Email:                s.Email,
		DisplayName:          s.DisplayName,
		VerificationState:    int(s.Verification.State),
		AttemptsRemaining:    s.Verification.AttemptsRemaining,
		FaceLoginAttempts:    s.FaceLoginAttempts,
		FaceLoginWindowStart: s.FaceLoginWindowStart,
		CreatedAt:            s.CreatedAt,
		ExpiresAt:            s.ExpiresAt,
	}
}

func sessionFromRecord(rec *store.SessionRecord) *Session {
	return &Session{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		Verification: gate.Verification{
			State:             gate.State(rec.VerificationState),
			AttemptsRemaining: rec.AttemptsRemaining,
		},
		FaceLoginAttempts:    rec.FaceLoginAttempts,
		FaceLoginWindowStart: rec.FaceLoginWindowStart,
	}
}

func (sm *SessionManager) reportPersistErr(err error) {
	if sm.persistErr != nil {
		sm.persistErr(err)
	}
}

func (sm *SessionManager) saveRecord(s *Session) {
	if sm.persist == nil {
		return
	}
	if err := sm.persist.Save(context.Background(), recordFromSession(s)); err != nil {
		sm.reportPersistErr(err)
	}
}

func (sm *SessionManager) dropRecord(sessionID string) {
	if sm.persist == nil {
		return
	}
	if err := sm.persist.Delete(context.Background(), sessionID); err != nil {
		sm.reportPersistErr(err)
	}
}

// CreateSession creates a new anonymous session.
func (sm *SessionManager) CreateSession() (*Session, error) {
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}
	sessionID := base64.URLEncoding.EncodeToString(idBytes)

	session := &Session{
		ID:           sessionID,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(sessionDuration),
		Verification: gate.NotRequired(),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = session
	sm.mu.Unlock()
	sm.saveRecord(session)

	return session, nil
}

// GetSession retrieves a session by ID.
func (sm *SessionManager) GetSession(sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	if ok {
		if time.Now().After(session.ExpiresAt) {
			sm.mu.RUnlock()
			go sm.DeleteSession(sessionID)
			return nil
		}
		cp := *session
		sm.mu.RUnlock()
		return &cp
	}
	sm.mu.RUnlock()

	return sm.restoreSession(sessionID)
}

// restoreSession rehydrates a session from the persistent store, so a signed
// cookie stays valid across a server restart.
func (sm *SessionManager) restoreSession(sessionID string) *Session {
	if sm.persist == nil {
		return nil
	}
	rec, err := sm.persist.Get(context.Background(), sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			sm.reportPersistErr(err)
		}
		return nil
	}

	session := sessionFromRecord(rec)
	sm.mu.Lock()
	// Another request may have restored it first; keep the existing one.
	if existing, ok := sm.sessions[sessionID]; ok {
		session = existing
	} else {
		sm.sessions[sessionID] = session
	}
	cp := *session
	sm.mu.Unlock()
	return &cp
}

// Update applies fn to the stored session under the manager lock and returns
// the updated copy, or nil when the session does not exist.
func (sm *SessionManager) Update(sessionID string, fn func(*Session)) *Session {
	sm.mu.Lock()
	session, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return nil
	}
	fn(session)
	cp := *session
	sm.mu.Unlock()

	sm.saveRecord(&cp)
	return &cp
}

// DeleteSession removes a session.
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()
	sm.dropRecord(sessionID)
}

// SetSessionCookie sets the session cookie on the response.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	signature := sm.signData(session.ID)
	cookieValue := session.ID + "." + signature

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from a request cookie.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(cookie.Value, ".", 2)
	if len(parts) != 2 {
		return nil
	}
	if !sm.verifySignature(parts[0], parts[1]) {
		return nil
	}
	return sm.GetSession(parts[0])
}

// GetOrCreateSession returns the request's session, creating an anonymous one
// and setting its cookie when none exists.
func (sm *SessionManager) GetOrCreateSession(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if session := sm.GetSessionFromRequest(r); session != nil {
		return session, nil
	}
	session, err := sm.CreateSession()
	if err != nil {
		return nil, err
	}
	sm.SetSessionCookie(w, session)
	return session, nil
}

// IssueCSRFToken derives a per-intent CSRF token bound to the session. The
// token is stateless: verification recomputes the HMAC instead of storing it.
func (sm *SessionManager) IssueCSRFToken(session *Session, intent string) string {
	return sm.signData("csrf:" + intent + ":" + session.ID)
}

// VerifyCSRFToken checks a per-intent CSRF token. The token may come from the
// X-CSRF-Token header or a _token body field; the caller passes whichever it
// extracted.
func (sm *SessionManager) VerifyCSRFToken(session *Session, intent, token string) bool {
	if session == nil || token == "" {
		return false
	}
	expected := sm.IssueCSRFToken(session, intent)
	return hmac.Equal([]byte(token), []byte(expected))
}

// signData creates an HMAC signature for data.
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature.
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}
