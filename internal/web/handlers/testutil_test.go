package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/descriptor"
	"github.com/unilearn/faceid/internal/gate"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/web/middleware"
)

// testConfig creates a minimal config for testing.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{SessionSecret: "test-secret"},
		Model: config.ModelConfig{
			URL:    "http://localhost:8000",
			Models: []string{"ssd_mobilenetv1", "face_landmark_68", "face_recognition"},
		},
		Face: config.FaceConfig{
			MatchThreshold:     0.55,
			VerifyMaxAttempts:  3,
			LoginMaxAttempts:   5,
			LoginAttemptWindow: 5 * time.Minute,
			EnrollTargetFrames: 5,
		},
		Gate: config.GateConfig{
			VerifyPath:   "/face-verify",
			AllowedPaths: []string{"/api/face/verify", "/face-verify/skip", "/api/auth/logout", "/api/health"},
		},
	}
}

// testEnv bundles everything a handler test needs.
type testEnv struct {
	cfg      *config.Config
	sessions *middleware.SessionManager
	store    *store.Store
	index    *store.FaceIndex
	auth     *AuthHandler
	face     *FaceHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	sm := middleware.NewSessionManager(cfg.Server.SessionSecret)
	st := store.NewMemoryStore()
	idx := store.NewFaceIndex()
	logger := zap.NewNop()
	return &testEnv{
		cfg:      cfg,
		sessions: sm,
		store:    st,
		index:    idx,
		auth:     NewAuthHandler(cfg, sm, st, idx, logger),
		face:     NewFaceHandler(cfg, sm, st, idx, logger),
	}
}

// createTestUser inserts a user with a real password hash.
func (env *testEnv) createTestUser(t *testing.T, email, password string, faceEnabled bool) *store.User {
	t.Helper()
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	u := &store.User{
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: hash,
		FaceEnabled:  faceEnabled,
	}
	if err := env.store.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// enrollUser stores descriptors and syncs the login index.
func (env *testEnv) enrollUser(t *testing.T, userID uuid.UUID, descs ...descriptor.Descriptor) {
	t.Helper()
	ctx := context.Background()
	if err := env.store.Enrollments.Replace(ctx, userID, descs); err != nil {
		t.Fatalf("failed to enroll: %v", err)
	}
	samples, err := env.store.Enrollments.ListByUser(ctx, userID)
	if err != nil {
		t.Fatalf("failed to list samples: %v", err)
	}
	env.index.AddSamples(samples)
}

// authedSession creates a live authenticated session for the user.
func (env *testEnv) authedSession(t *testing.T, u *store.User, v gate.Verification) *middleware.Session {
	t.Helper()
	session, err := env.sessions.CreateSession()
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return env.sessions.Update(session.ID, func(s *middleware.Session) {
		s.UserID = u.ID
		s.Email = u.Email
		s.DisplayName = u.DisplayName
		s.Verification = v
	})
}

// jsonRequest builds a request with a JSON body and the session in context.
func jsonRequest(t *testing.T, method, path string, body any, session *middleware.Session) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session != nil {
		req = req.WithContext(middleware.SetSessionInContext(req.Context(), session))
	}
	return req
}

// withSessionCookie attaches the signed session cookie to the request.
func withSessionCookie(req *http.Request, sm *middleware.SessionManager, session *middleware.Session) *http.Request {
	rec := httptest.NewRecorder()
	sm.SetSessionCookie(rec, session)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

// uniformDescriptor fills a descriptor with v.
func uniformDescriptor(v float32) descriptor.Descriptor {
	d := make(descriptor.Descriptor, descriptor.Dim)
	for i := range d {
		d[i] = v
	}
	return d
}

// rawDescriptor is uniformDescriptor as a plain slice for JSON payloads.
func rawDescriptor(v float32) []float32 {
	return []float32(uniformDescriptor(v))
}

// parseJSONResponse parses a JSON response body into the target type.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message.
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
