// Package capture drives face descriptor collection on the client side: it
// owns the enrollment auto-capture loop, the continuous verify loop, and the
// upload fallback, and submits descriptors to the server endpoints. The
// actual detection and embedding math lives behind the Detector interface.
package capture

import (
	"errors"
	"image"
	"time"

	"github.com/unilearn/faceid/internal/descriptor"
)

// Mode selects which workflow the engine runs.
type Mode int

const (
	// ModeEnroll collects several reference descriptors for storage.
	ModeEnroll Mode = iota
	// ModeVerify captures one descriptor to clear a pending session gate.
	ModeVerify
	// ModeLogin captures one descriptor for passwordless login.
	ModeLogin
)

func (m Mode) String() string {
	switch m {
	case ModeEnroll:
		return "enroll"
	case ModeVerify:
		return "verify"
	case ModeLogin:
		return "login"
	default:
		return "unknown"
	}
}

// UploadLimit is how many uploaded images the mode accepts; files beyond the
// limit are silently ignored.
func (m Mode) UploadLimit() int {
	if m == ModeEnroll {
		return 5
	}
	return 1
}

// State is the engine's lifecycle position.
type State int

const (
	StateLoadingModels State = iota
	StateCapture
	StateVerifying
	StateSuccess
	StateFailure
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoadingModels:
		return "loading-models"
	case StateCapture:
		return "capture"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Detection is a successful single-face detection: the embedding plus the
// bounding box for overlay drawing.
type Detection struct {
	Descriptor descriptor.Descriptor
	Box        image.Rectangle
}

// Config tunes the engine. Zero values take the documented defaults.
type Config struct {
	Mode          Mode
	TargetSamples int           // enrollment frames to collect (default 5)
	CapturePause  time.Duration // pause after a captured frame, encourages pose variation (default 600ms)
	MissPause     time.Duration // pause after a missed detection (default 300ms)
	SkipPause     time.Duration // pause after a skipped upload (default 800ms)
	FrameInterval time.Duration // verify loop pacing (default 33ms)
	SuccessDelay  time.Duration // visible-success delay before redirect (default 1.2s)
	FailureDelay  time.Duration // delay before forced redirect on exhaustion (default 2s)

	// CaptureTimeout bounds the enrollment auto-capture loop. Zero keeps the
	// loop unbounded, matching the historical behavior.
	CaptureTimeout time.Duration

	// AttemptsLeft seeds the verify attempt display; the server remains the
	// authority and updates it on every failed submission.
	AttemptsLeft int
}

func (c *Config) applyDefaults() {
	if c.TargetSamples <= 0 {
		c.TargetSamples = 5
	}
	if c.CapturePause <= 0 {
		c.CapturePause = 600 * time.Millisecond
	}
	if c.MissPause <= 0 {
		c.MissPause = 300 * time.Millisecond
	}
	if c.SkipPause <= 0 {
		c.SkipPause = 800 * time.Millisecond
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 33 * time.Millisecond
	}
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = 1200 * time.Millisecond
	}
	if c.FailureDelay <= 0 {
		c.FailureDelay = 2 * time.Second
	}
}

var (
	// ErrNoCamera signals that the frame source could not be acquired and
	// the caller should fall back to the upload path.
	ErrNoCamera = errors.New("camera unavailable")

	// ErrNoFacesDetected is returned when none of the uploaded images
	// contained a detectable face; nothing was submitted.
	ErrNoFacesDetected = errors.New("no faces detected in any uploaded image")

	// ErrNoCandidate is returned when a manual capture is triggered without
	// a fresh successful detection.
	ErrNoCandidate = errors.New("no face candidate captured")

	// ErrSubmitDisabled is returned when enrollment submission is attempted
	// without at least one sample and consent.
	ErrSubmitDisabled = errors.New("enrollment submission not enabled")

	// ErrCaptureTimeout is returned when the enrollment loop exceeds its
	// configured bound before collecting the target sample count.
	ErrCaptureTimeout = errors.New("capture timed out")
)
