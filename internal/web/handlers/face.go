package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/unilearn/faceid/internal/config"
	"github.com/unilearn/faceid/internal/descriptor"
	"github.com/unilearn/faceid/internal/gate"
	"github.com/unilearn/faceid/internal/store"
	"github.com/unilearn/faceid/internal/web/middleware"
)

// CSRF intents for the face endpoints.
const (
	intentEnroll = "face_enroll"
	intentVerify = "face_verify"
)

// FaceHandler handles enrollment, verification and the session gate surface.
type FaceHandler struct {
	config   *config.Config
	sessions *middleware.SessionManager
	store    *store.Store
	index    *store.FaceIndex
	logger   *zap.Logger
}

// NewFaceHandler creates a new face handler.
func NewFaceHandler(cfg *config.Config, sm *middleware.SessionManager, st *store.Store, idx *store.FaceIndex, logger *zap.Logger) *FaceHandler {
	return &FaceHandler{
		config:   cfg,
		sessions: sm,
		store:    st,
		index:    idx,
		logger:   logger,
	}
}

// pageResponse is the state either capture page needs to boot.
type pageResponse struct {
	State        string   `json:"state"`
	AttemptsLeft int      `json:"attempts_left,omitempty"`
	CSRFToken    string   `json:"csrf_token"`
	TargetFrames int      `json:"target_frames,omitempty"`
	ModelURL     string   `json:"model_url"`
	Models       []string `json:"models"`
}

// EnrollPage returns the state for the enrollment capture page.
func (h *FaceHandler) EnrollPage(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	respondJSON(w, http.StatusOK, pageResponse{
		State:        session.Verification.State.String(),
		CSRFToken:    h.sessions.IssueCSRFToken(session, intentEnroll),
		TargetFrames: h.config.Face.EnrollTargetFrames,
		ModelURL:     h.config.Model.URL,
		Models:       h.config.Model.Models,
	})
}

// VerifyPage returns the state for the verification capture page.
func (h *FaceHandler) VerifyPage(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	respondJSON(w, http.StatusOK, pageResponse{
		State:        session.Verification.State.String(),
		AttemptsLeft: session.Verification.AttemptsRemaining,
		CSRFToken:    h.sessions.IssueCSRFToken(session, intentVerify),
		ModelURL:     h.config.Model.URL,
		Models:       h.config.Model.Models,
	})
}

type enrollRequest struct {
	Descriptors [][]float32 `json:"descriptors" validate:"required,min=1,max=5,dive,len=128"`
	Consent     bool        `json:"consent"`
	Token       string      `json:"_token"`
}

// EnrollResponse represents an enrollment response.
type EnrollResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Enroll stores a new descriptor set for the authenticated user, replacing
// any previous enrollment.
func (h *FaceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, EnrollResponse{Success: false, Error: errInvalidRequestBody})
		return
	}
	if !h.sessions.VerifyCSRFToken(session, intentEnroll, csrfToken(r, req.Token)) {
		respondJSON(w, http.StatusForbidden, EnrollResponse{Success: false, Error: "invalid CSRF token"})
		return
	}
	if !req.Consent {
		respondJSON(w, http.StatusBadRequest, EnrollResponse{Success: false, Error: "Consent is required to enable Face ID."})
		return
	}
	if err := validate.Struct(req); err != nil {
		respondJSON(w, http.StatusBadRequest, EnrollResponse{Success: false, Error: "Between 1 and 5 face descriptors of dimension 128 are required."})
		return
	}

	descs := make([]descriptor.Descriptor, len(req.Descriptors))
	for i, d := range req.Descriptors {
		descs[i] = descriptor.Descriptor(d)
	}
	if err := descriptor.ValidateSet(descs); err != nil {
		respondJSON(w, http.StatusBadRequest, EnrollResponse{Success: false, Error: "Invalid face descriptors."})
		return
	}

	if err := h.store.Enrollments.Replace(r.Context(), session.UserID, descs); err != nil {
		h.logger.Error("enrollment store failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, EnrollResponse{Success: false, Error: "Failed to save enrollment."})
		return
	}
	if err := h.store.Users.SetFaceEnabled(r.Context(), session.UserID, true); err != nil {
		h.logger.Error("enabling face flag failed", zap.Error(err))
	}

	// Refresh the login index with the new set.
	h.index.RemoveUser(session.UserID)
	if samples, err := h.store.Enrollments.ListByUser(r.Context(), session.UserID); err == nil {
		h.index.AddSamples(samples)
	} else {
		h.logger.Warn("index refresh failed", zap.Error(err))
	}

	if err := h.store.Audit.Record(r.Context(), session.UserID, store.EventEnrolled, fmt.Sprintf("samples=%d", len(descs))); err != nil {
		h.logger.Warn("audit write failed", zap.Error(err))
	}
	h.logger.Info("face enrolled",
		zap.String("email", sanitizeForLog(session.Email)),
		zap.Int("samples", len(descs)))

	respondJSON(w, http.StatusOK, EnrollResponse{Success: true})
}

type verifyRequest struct {
	Descriptor []float32 `json:"descriptor" validate:"required,len=128"`
	Token      string    `json:"_token"`
}

// VerifyResponse represents a verification response.
type VerifyResponse struct {
	Match        bool   `json:"match"`
	Message      string `json:"message,omitempty"`
	Redirect     string `json:"redirect,omitempty"`
	AttemptsLeft int    `json:"attemptsLeft"`
}

// Verify checks one descriptor against the user's enrollment and updates the
// session gate. Attempts are bounded; exhausting them ends the session.
func (h *FaceHandler) Verify(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if !h.sessions.VerifyCSRFToken(session, intentVerify, csrfToken(r, req.Token)) {
		respondError(w, http.StatusForbidden, "invalid CSRF token")
		return
	}

	if session.Verification.State != gate.StatePending {
		// Nothing owed; send the client on its way.
		respondJSON(w, http.StatusOK, VerifyResponse{Match: true, Redirect: "/"})
		return
	}

	samples, err := h.store.Enrollments.ListByUser(r.Context(), session.UserID)
	if err != nil {
		h.logger.Error("enrollment load failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	// The enrollment disappeared between login and the verify step. There is
	// nothing to verify against anymore, so the obligation is void.
	if len(samples) == 0 {
		h.sessions.Update(session.ID, func(s *middleware.Session) {
			s.Verification = gate.Satisfied()
		})
		if aerr := h.store.Audit.Record(r.Context(), session.UserID, store.EventVerifySuccess, "enrollment cleared"); aerr != nil {
			h.logger.Warn("audit write failed", zap.Error(aerr))
		}
		respondJSON(w, http.StatusOK, VerifyResponse{Match: true, Message: "Face ID is no longer active.", Redirect: "/"})
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

	stored := make([]descriptor.Descriptor, len(samples))
	for i := range samples {
		stored[i] = samples[i].Descriptor
	}

	dist := descriptor.MinEuclidean(probe, stored)
	if dist <= h.config.Face.MatchThreshold {
		h.sessions.Update(session.ID, func(s *middleware.Session) {
			s.Verification = gate.Satisfied()
		})
		if aerr := h.store.Audit.Record(r.Context(), session.UserID, store.EventVerifySuccess, fmt.Sprintf("distance=%.4f", dist)); aerr != nil {
			h.logger.Warn("audit write failed", zap.Error(aerr))
		}
		h.logger.Info("face verified", zap.String("email", sanitizeForLog(session.Email)))
		respondJSON(w, http.StatusOK, VerifyResponse{Match: true, Message: "Identity verified!", Redirect: "/"})
		return
	}

	attemptsLeft := session.Verification.AttemptsRemaining - 1
	if aerr := h.store.Audit.Record(r.Context(), session.UserID, store.EventVerifyFailure, fmt.Sprintf("distance=%.4f attempts_left=%d", dist, attemptsLeft)); aerr != nil {
		h.logger.Warn("audit write failed", zap.Error(aerr))
	}

	if attemptsLeft > 0 {
		h.sessions.Update(session.ID, func(s *middleware.Session) {
			s.Verification = gate.Pending(attemptsLeft)
		})
		respondJSON(w, http.StatusOK, VerifyResponse{
			Match:        false,
			Message:      fmt.Sprintf("Face not recognized. %d attempt(s) left.", attemptsLeft),
			AttemptsLeft: attemptsLeft,
		})
		return
	}

	// Attempt budget exhausted: the session ends and the user starts over.
	h.sessions.DeleteSession(session.ID)
	h.sessions.ClearSessionCookie(w)
	h.logger.Warn("face verification attempts exhausted", zap.String("email", sanitizeForLog(session.Email)))
	respondJSON(w, http.StatusOK, VerifyResponse{
		Match:        false,
		Message:      "Verification failed. You have been logged out.",
		Redirect:     "/login",
		AttemptsLeft: 0,
	})
}

// SkipResponse represents a skip response.
type SkipResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect,omitempty"`
}

// Skip waives the verification obligation for this session. The audit log
// keeps the record; the account stays enrolled.
func (h *FaceHandler) Skip(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	var body struct {
		Token string `json:"_token"`
	}
	// A body is optional for skip; form posts send just the token.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !h.sessions.VerifyCSRFToken(session, intentVerify, csrfToken(r, body.Token)) {
		respondError(w, http.StatusForbidden, "invalid CSRF token")
		return
	}

	if session.Verification.State == gate.StatePending {
		h.sessions.Update(session.ID, func(s *middleware.Session) {
			s.Verification = gate.Satisfied()
		})
		if err := h.store.Audit.Record(r.Context(), session.UserID, store.EventVerifySkipped, ""); err != nil {
			h.logger.Warn("audit write failed", zap.Error(err))
		}
		h.logger.Info("face verification skipped", zap.String("email", sanitizeForLog(session.Email)))
	}
	respondJSON(w, http.StatusOK, SkipResponse{Success: true, Redirect: "/"})
}

// DisableResponse represents a disable response.
type DisableResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Disable removes the user's enrollment and turns the feature off.
func (h *FaceHandler) Disable(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	var body struct {
		Token string `json:"_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !h.sessions.VerifyCSRFToken(session, intentEnroll, csrfToken(r, body.Token)) {
		respondJSON(w, http.StatusForbidden, DisableResponse{Success: false, Error: "invalid CSRF token"})
		return
	}

	if err := h.store.Enrollments.DeleteByUser(r.Context(), session.UserID); err != nil {
		h.logger.Error("enrollment delete failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, DisableResponse{Success: false, Error: "Failed to disable Face ID."})
		return
	}
	if err := h.store.Users.SetFaceEnabled(r.Context(), session.UserID, false); err != nil {
		h.logger.Error("disabling face flag failed", zap.Error(err))
	}
	h.index.RemoveUser(session.UserID)

	h.sessions.Update(session.ID, func(s *middleware.Session) {
		s.Verification = gate.NotRequired()
	})
	if err := h.store.Audit.Record(r.Context(), session.UserID, store.EventDisabled, ""); err != nil {
		h.logger.Warn("audit write failed", zap.Error(err))
	}
	h.logger.Info("face id disabled", zap.String("email", sanitizeForLog(session.Email)))

	respondJSON(w, http.StatusOK, DisableResponse{Success: true})
}

// AuditResponse represents the audit listing response.
type AuditResponse struct {
	Entries []AuditEntryJSON `json:"entries"`
}

// AuditEntryJSON is one audit row.
type AuditEntryJSON struct {
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Audit lists the user's recent face verification events.
func (h *FaceHandler) Audit(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())

	entries, err := h.store.Audit.RecentByUser(r.Context(), session.UserID, 50)
	if err != nil {
		h.logger.Error("audit read failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load audit log")
		return
	}

	resp := AuditResponse{Entries: make([]AuditEntryJSON, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntryJSON{
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
