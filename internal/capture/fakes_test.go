package capture

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/unilearn/faceid/internal/descriptor"
)

// testDetection builds a detection whose descriptor is filled with v.
func testDetection(v float32) *Detection {
	d := make(descriptor.Descriptor, descriptor.Dim)
	for i := range d {
		d[i] = v
	}
	return &Detection{Descriptor: d, Box: image.Rect(10, 10, 90, 90)}
}

// fakeDetector scripts detection results per call and fails the test if two
// detections ever run concurrently.
type fakeDetector struct {
	t        *testing.T
	loadErr  error
	script   []*Detection            // result per call index; nil entry = no face
	fn       func(call int) *Detection // takes precedence over script when set
	fallback *Detection

	mu       sync.Mutex
	inFlight bool
	calls    int
}

func (d *fakeDetector) LoadModels(ctx context.Context, progress func(loaded, total int)) error {
	if d.loadErr != nil {
		return d.loadErr
	}
	if progress != nil {
		for i := 1; i <= 3; i++ {
			progress(i, 3)
		}
	}
	return nil
}

func (d *fakeDetector) DetectSingle(ctx context.Context, img image.Image) (*Detection, error) {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		d.t.Error("DetectSingle invoked concurrently; detector is not reentrant")
		return nil, nil
	}
	d.inFlight = true
	call := d.calls
	d.calls++
	d.mu.Unlock()

	// Widen the race window so overlapping calls get caught.
	time.Sleep(100 * time.Microsecond)

	var det *Detection
	switch {
	case d.fn != nil:
		det = d.fn(call)
	case call < len(d.script):
		det = d.script[call]
	default:
		det = d.fallback
	}

	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
	return det, nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeSource hands out blank frames and records open/close.
type fakeSource struct {
	openErr error

	mu     sync.Mutex
	opened bool
	closed bool
}

func (s *fakeSource) Open(ctx context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNoCamera
	}
	return image.NewRGBA(image.Rect(0, 0, 16, 16)), nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeGateway scripts server responses and records what got submitted.
type fakeGateway struct {
	enrollRes EnrollResult
	enrollErr error
	verifyRes VerifyResult
	verifyErr error

	// watch, when set, records whether the source was already closed at the
	// moment of each verify submission.
	watch *fakeSource

	mu               sync.Mutex
	enrollCalls      int
	verifyCalls      int
	lastSamples      []descriptor.Descriptor
	lastDescriptor   descriptor.Descriptor
	sourceClosedAtVerify bool
}

func (g *fakeGateway) SubmitEnrollment(ctx context.Context, samples []descriptor.Descriptor, consent bool) (EnrollResult, error) {
	g.mu.Lock()
	g.enrollCalls++
	g.lastSamples = samples
	g.mu.Unlock()
	if g.enrollErr != nil {
		return EnrollResult{}, g.enrollErr
	}
	return g.enrollRes, nil
}

func (g *fakeGateway) SubmitVerification(ctx context.Context, d descriptor.Descriptor) (VerifyResult, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.lastDescriptor = d
	if g.watch != nil {
		g.sourceClosedAtVerify = g.watch.isClosed()
	}
	g.mu.Unlock()
	if g.verifyErr != nil {
		return VerifyResult{}, g.verifyErr
	}
	return g.verifyRes, nil
}

func (g *fakeGateway) verifyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

// recordSink records everything the engine reports.
type recordSink struct {
	mu       sync.Mutex
	states   []State
	statuses []string
	progress [][2]int
	models   [][2]int
	overlays int // non-nil overlay draws
	clears   int // nil overlay draws
}

func (s *recordSink) StateChanged(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordSink) Status(msg string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, msg)
	s.mu.Unlock()
}

func (s *recordSink) CaptureProgress(captured, target int) {
	s.mu.Lock()
	s.progress = append(s.progress, [2]int{captured, target})
	s.mu.Unlock()
}

func (s *recordSink) ModelProgress(loaded, total int) {
	s.mu.Lock()
	s.models = append(s.models, [2]int{loaded, total})
	s.mu.Unlock()
}

func (s *recordSink) Overlay(box *image.Rectangle) {
	s.mu.Lock()
	if box != nil {
		s.overlays++
	} else {
		s.clears++
	}
	s.mu.Unlock()
}

func (s *recordSink) lastProgress() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.progress) == 0 {
		return 0, 0
	}
	p := s.progress[len(s.progress)-1]
	return p[0], p[1]
}

// fastConfig returns a config whose pauses do not slow tests down.
func fastConfig(mode Mode) Config {
	return Config{
		Mode:          mode,
		CapturePause:  time.Millisecond,
		MissPause:     time.Millisecond,
		SkipPause:     time.Millisecond,
		FrameInterval: time.Millisecond,
		SuccessDelay:  time.Millisecond,
		FailureDelay:  time.Millisecond,
	}
}

// atomicFlag is a mutex-guarded bool for tests that flip detector behavior
// while the verify loop is running.
type atomicFlag struct {
	mu sync.Mutex
	v  bool
}

func (f *atomicFlag) set(v bool) {
	f.mu.Lock()
	f.v = v
	f.mu.Unlock()
}

func (f *atomicFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}
