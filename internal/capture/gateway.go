package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/unilearn/faceid/internal/descriptor"
)

// EnrollResult is the server's answer to an enrollment submission.
type EnrollResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// VerifyResult is the server's answer to a verification submission.
type VerifyResult struct {
	Match        bool   `json:"match"`
	Message      string `json:"message,omitempty"`
	Redirect     string `json:"redirect,omitempty"`
	AttemptsLeft int    `json:"attemptsLeft,omitempty"`
}

// Gateway submits collected descriptors to the server.
type Gateway interface {
	SubmitEnrollment(ctx context.Context, samples []descriptor.Descriptor, consent bool) (EnrollResult, error)
	SubmitVerification(ctx context.Context, d descriptor.Descriptor) (VerifyResult, error)
}

// HTTPGateway posts to the enrollment/verification endpoints with a CSRF
// token carried both in the header and the body, the way the server accepts
// it. The client keeps a cookie jar so the authenticated session survives
// across submissions.
type HTTPGateway struct {
	EnrollURL string
	VerifyURL string
	CSRFToken string
	Client    *http.Client
}

// NewHTTPGateway creates a gateway with a cookie-jar-backed client.
func NewHTTPGateway(enrollURL, verifyURL, csrfToken string) *HTTPGateway {
	jar, _ := cookiejar.New(nil)
	return &HTTPGateway{
		EnrollURL: enrollURL,
		VerifyURL: verifyURL,
		CSRFToken: csrfToken,
		Client:    &http.Client{Timeout: 15 * time.Second, Jar: jar},
	}
}

func (g *HTTPGateway) post(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", g.CSRFToken)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func (g *HTTPGateway) SubmitEnrollment(ctx context.Context, samples []descriptor.Descriptor, consent bool) (EnrollResult, error) {
	payload := map[string]any{
		"descriptors": samples,
		"consent":     consent,
		"_token":      g.CSRFToken,
	}
	var res EnrollResult
	if err := g.post(ctx, g.EnrollURL, payload, &res); err != nil {
		return EnrollResult{}, err
	}
	return res, nil
}

func (g *HTTPGateway) SubmitVerification(ctx context.Context, d descriptor.Descriptor) (VerifyResult, error) {
	payload := map[string]any{
		"descriptor": d,
		"_token":     g.CSRFToken,
	}
	var res VerifyResult
	if err := g.post(ctx, g.VerifyURL, payload, &res); err != nil {
		return VerifyResult{}, err
	}
	return res, nil
}
