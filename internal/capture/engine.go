package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unilearn/faceid/internal/descriptor"
)

// Engine owns all transient capture state: collected samples, the frame
// source handle, the current verify candidate, and the consent flag. Every
// exit path releases the frame source through the single teardown method.
type Engine struct {
	cfg      Config
	detector Detector
	source   FrameSource
	gateway  Gateway
	sink     StatusSink

	// sleep is swappable so tests run without real pauses.
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        State
	samples      []descriptor.Descriptor
	candidate    *Detection
	consent      bool
	cameraOn     bool
	captureArmed bool
	attemptsLeft int

	stopLoop chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// New creates an engine. sink may be nil.
func New(cfg Config, det Detector, src FrameSource, gw Gateway, sink StatusSink) *Engine {
	cfg.applyDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		cfg:          cfg,
		detector:     det,
		source:       src,
		gateway:      gw,
		sink:         sink,
		sleep:        sleepCtx,
		state:        StateLoadingModels,
		attemptsLeft: cfg.AttemptsLeft,
		stopLoop:     make(chan struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.sink.StateChanged(s)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AttemptsLeft returns the last attempt count reported by the server.
func (e *Engine) AttemptsLeft() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attemptsLeft
}

// LoadModels loads the recognition model weights. Failure here is terminal:
// the engine enters StateError and nothing else may run.
func (e *Engine) LoadModels(ctx context.Context) error {
	e.setState(StateLoadingModels)
	err := e.detector.LoadModels(ctx, e.sink.ModelProgress)
	if err != nil {
		e.setState(StateError)
		e.sink.Status("Failed to load face detection models: " + err.Error())
		return fmt.Errorf("load models: %w", err)
	}
	return nil
}

// StartCapture opens the frame source. A false return means the camera is
// unavailable and the caller should offer the upload path instead. This is
// the non-fatal branch, not an error.
func (e *Engine) StartCapture(ctx context.Context) bool {
	e.setState(StateCapture)
	if err := e.source.Open(ctx); err != nil {
		e.mu.Lock()
		e.cameraOn = false
		e.mu.Unlock()
		e.sink.Status("Camera unavailable, please upload photos instead.")
		return false
	}
	e.mu.Lock()
	e.cameraOn = true
	e.mu.Unlock()
	return true
}

// RunEnrollCapture runs the auto-capture loop until TargetSamples descriptors
// are collected, the configured timeout elapses, or ctx is cancelled. The
// camera is released once the target is reached.
func (e *Engine) RunEnrollCapture(ctx context.Context) error {
	if e.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.CaptureTimeout, ErrCaptureTimeout)
		defer cancel()
	}

	e.sink.Status("Detecting face…")
	e.mu.Lock()
	e.samples = nil
	e.mu.Unlock()

	for e.SampleCount() < e.cfg.TargetSamples {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		frame, err := e.source.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("read frame: %w", err)
		}

		det, err := e.detector.DetectSingle(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			// Per-frame detection problems are transient; keep looping.
			det = nil
		}

		if det != nil {
			box := det.Box
			e.sink.Overlay(&box)
			e.mu.Lock()
			e.samples = append(e.samples, det.Descriptor)
			n := len(e.samples)
			e.mu.Unlock()
			e.sink.CaptureProgress(n, e.cfg.TargetSamples)
			e.sink.Status(fmt.Sprintf("Captured frame %d/%d", n, e.cfg.TargetSamples))
			if err := e.sleep(ctx, e.cfg.CapturePause); err != nil {
				return context.Cause(ctx)
			}
		} else {
			e.sink.Overlay(nil)
			e.sink.Status("No face detected, hold still…")
			if err := e.sleep(ctx, e.cfg.MissPause); err != nil {
				return context.Cause(ctx)
			}
		}
	}

	e.Teardown()
	e.sink.Status("All frames captured!")
	return nil
}

// SampleCount returns how many enrollment samples are held.
func (e *Engine) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}

// SetConsent records the consent checkbox state.
func (e *Engine) SetConsent(v bool) {
	e.mu.Lock()
	e.consent = v
	e.mu.Unlock()
}

// SubmitEnabled reports whether enrollment submission is allowed: at least
// one sample plus consent. Deliberately not "exactly TargetSamples"; the
// upload fallback may legitimately supply fewer.
func (e *Engine) SubmitEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples) >= 1 && e.consent
}

// SubmitEnrollment posts the collected samples. Samples are discarded after
// a successful submission.
func (e *Engine) SubmitEnrollment(ctx context.Context) (EnrollResult, error) {
	if !e.SubmitEnabled() {
		return EnrollResult{}, ErrSubmitDisabled
	}

	e.mu.Lock()
	samples := make([]descriptor.Descriptor, len(e.samples))
	copy(samples, e.samples)
	e.mu.Unlock()

	res, err := e.gateway.SubmitEnrollment(ctx, samples, true)
	if err != nil {
		e.setState(StateError)
		e.sink.Status("Network error: " + err.Error())
		return EnrollResult{}, err
	}
	if !res.Success {
		e.setState(StateError)
		msg := res.Error
		if msg == "" {
			msg = "Unknown error."
		}
		e.sink.Status(msg)
		return res, nil
	}

	e.mu.Lock()
	e.samples = nil
	e.mu.Unlock()
	e.setState(StateSuccess)
	return res, nil
}

// StartVerifyLoop launches the continuous detection loop in a goroutine. The
// loop keeps the newest successful detection as the capture candidate and is
// stopped by Teardown or ctx cancellation, not by a shared nullable handle.
func (e *Engine) StartVerifyLoop(ctx context.Context) {
	e.mu.Lock()
	if !e.cameraOn || e.loopDone != nil {
		e.mu.Unlock()
		return
	}
	done := make(chan struct{})
	e.loopDone = done
	e.mu.Unlock()

	go func() {
		defer close(done)
		e.verifyLoop(ctx)
	}()
}

func (e *Engine) verifyLoop(ctx context.Context) {
	e.sink.Status("Detecting face…")
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopLoop:
			return
		default:
		}

		frame, err := e.source.Frame(ctx)
		if err != nil {
			return
		}

		det, err := e.detector.DetectSingle(ctx, frame)
		if err != nil {
			det = nil
		}

		e.mu.Lock()
		e.candidate = det
		e.captureArmed = det != nil
		e.mu.Unlock()

		if det != nil {
			box := det.Box
			e.sink.Overlay(&box)
			e.sink.Status("Face detected, capture to verify")
		} else {
			e.sink.Overlay(nil)
			e.sink.Status("No face detected…")
		}

		if err := e.sleep(ctx, e.cfg.FrameInterval); err != nil {
			return
		}
	}
}

// CaptureArmed reports whether the most recent detection attempt succeeded,
// i.e. whether a manual capture would have a candidate to submit.
func (e *Engine) CaptureArmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captureArmed
}

// CaptureAndSubmit takes the cached candidate descriptor and submits it for
// verification. The capture control disarms immediately so a double trigger
// cannot submit twice.
func (e *Engine) CaptureAndSubmit(ctx context.Context) (VerifyResult, error) {
	e.mu.Lock()
	if e.candidate == nil {
		e.mu.Unlock()
		return VerifyResult{}, ErrNoCandidate
	}
	d := e.candidate.Descriptor
	e.captureArmed = false
	e.mu.Unlock()

	return e.submitVerification(ctx, d)
}

// submitVerification posts one descriptor and applies the response to the
// engine state. A transport failure is deliberately folded into the normal
// verification-failure path: the user sees the same retryable failure UI.
func (e *Engine) submitVerification(ctx context.Context, d descriptor.Descriptor) (VerifyResult, error) {
	e.setState(StateVerifying)

	res, err := e.gateway.SubmitVerification(ctx, d)
	if err != nil {
		e.setState(StateFailure)
		e.sink.Status("Network error: " + err.Error())
		return VerifyResult{Match: false, Message: "Network error: " + err.Error(), AttemptsLeft: e.AttemptsLeft()}, nil
	}

	if res.Match {
		// Stop the camera before the caller navigates away.
		e.Teardown()
		e.setState(StateSuccess)
		if res.Message != "" {
			e.sink.Status(res.Message)
		}
		_ = e.sleep(ctx, e.cfg.SuccessDelay)
		return res, nil
	}

	e.mu.Lock()
	e.attemptsLeft = res.AttemptsLeft
	e.mu.Unlock()

	e.setState(StateFailure)
	msg := res.Message
	if msg == "" {
		msg = "Face not recognized."
	}
	e.sink.Status(msg)

	if res.AttemptsLeft <= 0 && res.Redirect != "" {
		_ = e.sleep(ctx, e.cfg.FailureDelay)
	}
	return res, nil
}

// Retry resets the transient failure state so another capture can run. It
// does not reacquire the camera if it was already torn down; the caller must
// restart capture explicitly in that case.
func (e *Engine) Retry() {
	e.mu.Lock()
	e.state = StateCapture
	e.captureArmed = e.cameraOn && e.candidate != nil
	e.mu.Unlock()
	e.sink.StateChanged(StateCapture)
	e.sink.Status("Ready to retry")
}

// Teardown releases the frame source and stops the verify loop. Safe to call
// from every exit path; only the first call has an effect.
func (e *Engine) Teardown() {
	e.stopOnce.Do(func() {
		close(e.stopLoop)
		e.mu.Lock()
		on := e.cameraOn
		e.cameraOn = false
		done := e.loopDone
		e.mu.Unlock()
		if on {
			_ = e.source.Close()
		}
		if done != nil {
			<-done
		}
	})
}
