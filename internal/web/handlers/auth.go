package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/argon2id"
	"go.uber.org/zap"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/descriptor"
	"github.com/unilearn/faceid/internal/gate"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/web/middleware"
)

// AuthHandler handles login, logout and face login.
type AuthHandler struct {
	config   *config.Config
	sessions *middleware.SessionManager
	store    *store.Store
	index    *store.FaceIndex
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(cfg *config.Config, sm *middleware.SessionManager, st *store.Store, idx *store.FaceIndex, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		config:   cfg,
		sessions: sm,
		store:    st,
		index:    idx,
		logger:   logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	Success              bool   `json:"success"`
	VerificationRequired bool   `json:"verification_required"`
	Redirect             string `json:"redirect,omitempty"`
	Error                string `json:"error,omitempty"`
}

// Login authenticates with email and password. When the account has a face
// enrollment, the session enters the pending verification state and every
// page except the verify surface redirects until the face step completes.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.Users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("login lookup failed", zap.Error(err))
		}
		respondJSON(w, http.StatusUnauthorized, LoginResponse{Success: false, Error: "invalid credentials"})
		return
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil || !match {
		respondJSON(w, http.StatusUnauthorized, LoginResponse{Success: false, Error: "invalid credentials"})
		return
	}

	verification := gate.NotRequired()
	if user.FaceEnabled {
		enrolled, err := h.store.Enrollments.HasEnrollment(r.Context(), user.ID)
		if err != nil {
			h.logger.Error("enrollment check failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "login failed")
			return
		}
		if enrolled {
			verification = gate.Pending(h.config.Face.VerifyMaxAttempts)
		}
	}

	session, err := h.sessions.GetOrCreateSession(w, r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessions.Update(session.ID, func(s *middleware.Session) {
		s.UserID = user.ID
		s.Email = user.Email
		s.DisplayName = user.DisplayName
		s.Verification = verification
	})

	h.logger.Info("user logged in",
		zap.String("email", sanitizeForLog(user.Email)),
		zap.Bool("verification_required", verification.State == gate.StatePending))

	resp := LoginResponse{Success: true}
	if verification.State == gate.StatePending {
		resp.VerificationRequired = true
		resp.Redirect = h.config.Gate.VerifyPath
	}
	respondJSON(w, http.StatusOK, resp)
}

// Logout ends the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessions.GetSessionFromRequest(r); session != nil {
		h.sessions.DeleteSession(session.ID)
	}
	h.sessions.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response.
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Verification  string `json:"verification"`
	AttemptsLeft  int    `json:"attempts_left,omitempty"`
}

// Status reports the session's authentication and face gate state.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetSessionFromRequest(r)
	if session == nil || !session.Authenticated() {
		respondJSON(w, http.StatusOK, StatusResponse{
			Authenticated: false,
			Verification:  gate.StateNotRequired.String(),
		})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		Email:         session.Email,
		DisplayName:   session.DisplayName,
		Verification:  session.Verification.State.String(),
		AttemptsLeft:  session.Verification.AttemptsRemaining,
	})
}

type faceLoginRequest struct {
	Descriptor []float32 `json:"descriptor" validate:"required,len=128"`
}

// FaceLoginResponse represents a face login response.
type FaceLoginResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Redirect     string `json:"redirect,omitempty"`
	AttemptsLeft int    `json:"attemptsLeft"`
}

// FaceLogin authenticates by face alone. Attempts are rate limited per
// session; the counter resets once the attempt window passes.
func (h *AuthHandler) FaceLogin(w http.ResponseWriter, r *http.Request) {
	var req faceLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "a 128-dimension descriptor is required")
		return
	}
	probe := descriptor.Descriptor(req.Descriptor)
	if err := probe.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid descriptor")
		return
	}

	session, err := h.sessions.GetOrCreateSession(w, r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	maxAttempts := h.config.Face.LoginMaxAttempts
	window := h.config.Face.LoginAttemptWindow

	allowed := false
	attemptsLeft := 0
	h.sessions.Update(session.ID, func(s *middleware.Session) {
		if s.FaceLoginWindowStart.IsZero() || time.Since(s.FaceLoginWindowStart) > window {
			s.FaceLoginAttempts = 0
			s.FaceLoginWindowStart = time.Now()
		}
		if s.FaceLoginAttempts < maxAttempts {
			s.FaceLoginAttempts++
			allowed = true
		}
		attemptsLeft = maxAttempts - s.FaceLoginAttempts
	})
	if !allowed {
		respondJSON(w, http.StatusTooManyRequests, FaceLoginResponse{
			Success:      false,
			Message:      "Too many attempts. Please wait a few minutes and try again.",
			AttemptsLeft: 0,
		})
		return
	}

	candidate, err := h.index.Nearest(r.Context(), probe, 5)
	if err == nil && candidate.Distance <= h.config.Face.MatchThreshold {
		user, uerr := h.store.Users.GetByID(r.Context(), candidate.UserID)
		if uerr == nil {
			h.sessions.Update(session.ID, func(s *middleware.Session) {
				s.UserID = user.ID
				s.Email = user.Email
				s.DisplayName = user.DisplayName
				// Matching a live face just now already satisfies the gate.
				s.Verification = gate.Satisfied()
				s.FaceLoginAttempts = 0
			})
			detail := fmt.Sprintf("distance=%.4f user=%s", candidate.Distance, store.NormalizeDisplayName(user.DisplayName))
			if aerr := h.store.Audit.Record(r.Context(), user.ID, store.EventFaceLoginSuccess, detail); aerr != nil {
				h.logger.Warn("audit write failed", zap.Error(aerr))
			}
			h.logger.Info("face login succeeded", zap.String("email", sanitizeForLog(user.Email)))
			respondJSON(w, http.StatusOK, FaceLoginResponse{
				Success:  true,
				Message:  fmt.Sprintf("Welcome back, %s!", user.DisplayName),
				Redirect: "/",
			})
			return
		}
		h.logger.Error("face login user lookup failed", zap.Error(uerr))
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("face index search failed", zap.Error(err))
	}

	if err == nil {
		// Closest candidate was above the threshold; record against them so
		// repeated impersonation attempts show up in the log.
		if aerr := h.store.Audit.Record(r.Context(), candidate.UserID, store.EventFaceLoginFailure, fmt.Sprintf("distance=%.4f", candidate.Distance)); aerr != nil {
			h.logger.Warn("audit write failed", zap.Error(aerr))
		}
	}

	respondJSON(w, http.StatusUnauthorized, FaceLoginResponse{
		Success:      false,
		Message:      "Face not recognized.",
		AttemptsLeft: attemptsLeft,
	})
}
