package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/unilearn/faceid/internal/descriptor"
)

// Detector is the external recognition model. LoadModels must complete before
// DetectSingle is called. Implementations are NOT required to be safe for
// concurrent DetectSingle calls; the engine serializes every invocation.
type Detector interface {
	// LoadModels loads the required weight sets, reporting fractional
	// progress as each model finishes. Failure is terminal for the session.
	LoadModels(ctx context.Context, progress func(loaded, total int)) error

	// DetectSingle runs single-face detection on one image. It returns
	// (nil, nil) when no face is found; only transport or decoding
	// problems are errors.
	DetectSingle(ctx context.Context, img image.Image) (*Detection, error)
}

// HTTPDetector talks to a model-serving service over HTTP.
type HTTPDetector struct {
	baseURL string
	models  []string
	client  *http.Client
}

// NewHTTPDetector creates a detector client. models are the weight sets to
// load, in order.
func NewHTTPDetector(baseURL string, models []string) *HTTPDetector {
	return &HTTPDetector{
		baseURL: baseURL,
		models:  models,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WaitReady polls the service health endpoint with exponential backoff until
// it answers, for deployments where the model service starts alongside the
// client.
func (d *HTTPDetector) WaitReady(ctx context.Context) error {
	backoff := retry.WithMaxRetries(6, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("model service not ready: status %d", resp.StatusCode))
		}
		return nil
	})
}

func (d *HTTPDetector) LoadModels(ctx context.Context, progress func(loaded, total int)) error {
	total := len(d.models)
	for i, model := range d.models {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/models/"+model+"/load", nil)
		if err != nil {
			return fmt.Errorf("load model %s: %w", model, err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("load model %s: %w", model, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("load model %s: status %d", model, resp.StatusCode)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return nil
}

// detectResponse is the model service answer for a detect call.
type detectResponse struct {
	Found      bool      `json:"found"`
	Descriptor []float32 `json:"descriptor"`
	Box        struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"box"`
}

func (d *HTTPDetector) DetectSingle(ctx context.Context, img image.Image) (*Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", &buf)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect: status %d", resp.StatusCode)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	if !dr.Found {
		return nil, nil
	}

	desc := descriptor.Descriptor(dr.Descriptor)
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("model returned bad descriptor: %w", err)
	}

	return &Detection{
		Descriptor: desc,
		Box:        image.Rect(dr.Box.X, dr.Box.Y, dr.Box.X+dr.Box.Width, dr.Box.Y+dr.Box.Height),
	}, nil
}
