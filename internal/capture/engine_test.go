package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadModelsFailureIsTerminal(t *testing.T) {
	det := &fakeDetector{t: t, loadErr: errors.New("weights missing")}
	sink := &recordSink{}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, sink)

	if err := eng.LoadModels(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if eng.State() != StateError {
		t.Errorf("state = %v, want %v", eng.State(), StateError)
	}
}

func TestLoadModelsReportsProgress(t *testing.T) {
	det := &fakeDetector{t: t}
	sink := &recordSink{}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, sink)

	if err := eng.LoadModels(context.Background()); err != nil {
		t.Fatalf("LoadModels: %v", err)
	}
	if len(sink.models) != 3 {
		t.Errorf("got %d model progress reports, want 3", len(sink.models))
	}
}

func TestStartCaptureFallsBackWhenCameraUnavailable(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no device")}
	eng := New(fastConfig(ModeEnroll), &fakeDetector{t: t}, src, &fakeGateway{}, &recordSink{})

	if eng.StartCapture(context.Background()) {
		t.Fatal("StartCapture should report fallback when the source cannot open")
	}
	if eng.State() != StateCapture {
		t.Errorf("state = %v, want %v", eng.State(), StateCapture)
	}
}

func TestEnrollCaptureCollectsTargetSamples(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.1)}
	src := &fakeSource{}
	sink := &recordSink{}
	eng := New(fastConfig(ModeEnroll), det, src, &fakeGateway{}, sink)

	if !eng.StartCapture(context.Background()) {
		t.Fatal("StartCapture failed")
	}
	if err := eng.RunEnrollCapture(context.Background()); err != nil {
		t.Fatalf("RunEnrollCapture: %v", err)
	}

	if got := eng.SampleCount(); got != 5 {
		t.Errorf("SampleCount = %d, want 5", got)
	}
	if captured, target := sink.lastProgress(); captured != 5 || target != 5 {
		t.Errorf("last progress = %d/%d, want 5/5", captured, target)
	}
	if !src.isClosed() {
		t.Error("frame source should be released once the target is reached")
	}
}

func TestEnrollCaptureSkipsMisses(t *testing.T) {
	// Every other frame has no face; the loop must keep going.
	det := &fakeDetector{t: t, fn: func(call int) *Detection {
		if call%2 == 0 {
			return nil
		}
		return testDetection(0.1)
	}}
	sink := &recordSink{}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, sink)

	if !eng.StartCapture(context.Background()) {
		t.Fatal("StartCapture failed")
	}
	if err := eng.RunEnrollCapture(context.Background()); err != nil {
		t.Fatalf("RunEnrollCapture: %v", err)
	}

	if got := eng.SampleCount(); got != 5 {
		t.Errorf("SampleCount = %d, want 5", got)
	}
	if sink.clears == 0 {
		t.Error("missed frames should clear the overlay")
	}
}

func TestEnrollCaptureTimesOut(t *testing.T) {
	det := &fakeDetector{t: t} // never finds a face
	cfg := fastConfig(ModeEnroll)
	cfg.CaptureTimeout = 25 * time.Millisecond
	eng := New(cfg, det, &fakeSource{}, &fakeGateway{}, &recordSink{})

	if !eng.StartCapture(context.Background()) {
		t.Fatal("StartCapture failed")
	}
	err := eng.RunEnrollCapture(context.Background())
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("err = %v, want ErrCaptureTimeout", err)
	}
}

func TestSubmitEnabledRequiresSampleAndConsent(t *testing.T) {
	eng := New(fastConfig(ModeEnroll), &fakeDetector{t: t}, &fakeSource{}, &fakeGateway{}, nil)

	if eng.SubmitEnabled() {
		t.Error("enabled with no samples and no consent")
	}
	eng.SetConsent(true)
	if eng.SubmitEnabled() {
		t.Error("enabled with consent but no samples")
	}

	eng.mu.Lock()
	eng.samples = append(eng.samples, testDetection(0.1).Descriptor)
	eng.mu.Unlock()
	if !eng.SubmitEnabled() {
		t.Error("one sample plus consent should enable submission")
	}

	eng.SetConsent(false)
	if eng.SubmitEnabled() {
		t.Error("withdrawing consent should disable submission")
	}
}

func TestSubmitEnrollmentRejectedWhenDisabled(t *testing.T) {
	gw := &fakeGateway{}
	eng := New(fastConfig(ModeEnroll), &fakeDetector{t: t}, &fakeSource{}, gw, nil)

	_, err := eng.SubmitEnrollment(context.Background())
	if !errors.Is(err, ErrSubmitDisabled) {
		t.Fatalf("err = %v, want ErrSubmitDisabled", err)
	}
	if gw.enrollCalls != 0 {
		t.Error("nothing should reach the gateway when submission is disabled")
	}
}

func TestSubmitEnrollmentSuccess(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.1)}
	gw := &fakeGateway{enrollRes: EnrollResult{Success: true}}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, gw, nil)

	eng.StartCapture(context.Background())
	if err := eng.RunEnrollCapture(context.Background()); err != nil {
		t.Fatalf("RunEnrollCapture: %v", err)
	}
	eng.SetConsent(true)

	res, err := eng.SubmitEnrollment(context.Background())
	if err != nil {
		t.Fatalf("SubmitEnrollment: %v", err)
	}
	if !res.Success {
		t.Error("expected success")
	}
	if len(gw.lastSamples) != 5 {
		t.Errorf("submitted %d samples, want 5", len(gw.lastSamples))
	}
	if eng.State() != StateSuccess {
		t.Errorf("state = %v, want %v", eng.State(), StateSuccess)
	}
	if eng.SampleCount() != 0 {
		t.Error("samples should be discarded after a successful submission")
	}
}

func TestSubmitEnrollmentServerRejection(t *testing.T) {
	gw := &fakeGateway{enrollRes: EnrollResult{Success: false, Error: "invalid descriptors"}}
	eng := New(fastConfig(ModeEnroll), &fakeDetector{t: t}, &fakeSource{}, gw, nil)
	eng.SetConsent(true)
	eng.mu.Lock()
	eng.samples = append(eng.samples, testDetection(0.1).Descriptor)
	eng.mu.Unlock()

	res, err := eng.SubmitEnrollment(context.Background())
	if err != nil {
		t.Fatalf("SubmitEnrollment: %v", err)
	}
	if res.Success {
		t.Error("expected rejection")
	}
	if eng.State() != StateError {
		t.Errorf("state = %v, want %v", eng.State(), StateError)
	}
}

func TestVerifyLoopArmsOnDetection(t *testing.T) {
	var noFace atomicFlag
	det := &fakeDetector{t: t, fn: func(call int) *Detection {
		if noFace.get() {
			return nil
		}
		return testDetection(0.2)
	}}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 3
	eng := New(cfg, det, &fakeSource{}, &fakeGateway{}, &recordSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !eng.StartCapture(ctx) {
		t.Fatal("StartCapture failed")
	}
	eng.StartVerifyLoop(ctx)
	defer eng.Teardown()

	eventually(t, time.Second, eng.CaptureArmed, "capture never armed while a face was visible")

	noFace.set(true)
	eventually(t, time.Second, func() bool { return !eng.CaptureArmed() }, "capture stayed armed after the face disappeared")
}

func TestCaptureAndSubmitWithoutCandidate(t *testing.T) {
	eng := New(fastConfig(ModeVerify), &fakeDetector{t: t}, &fakeSource{}, &fakeGateway{}, nil)

	_, err := eng.CaptureAndSubmit(context.Background())
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("err = %v, want ErrNoCandidate", err)
	}
}

func TestCaptureAndSubmitMatchStopsCameraFirst(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.2)}
	src := &fakeSource{}
	gw := &fakeGateway{verifyRes: VerifyResult{Match: true, Redirect: "/dashboard", Message: "Identity verified!"}, watch: src}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 3
	eng := New(cfg, det, src, gw, &recordSink{})

	ctx := context.Background()
	eng.StartCapture(ctx)
	eng.StartVerifyLoop(ctx)
	eventually(t, time.Second, eng.CaptureArmed, "capture never armed")

	res, err := eng.CaptureAndSubmit(ctx)
	if err != nil {
		t.Fatalf("CaptureAndSubmit: %v", err)
	}
	if !res.Match {
		t.Fatal("expected a match")
	}
	if res.Redirect != "/dashboard" {
		t.Errorf("redirect = %q, want /dashboard", res.Redirect)
	}
	if gw.sourceClosedAtVerify {
		t.Error("camera should still be live while the submission is in flight")
	}
	if !src.isClosed() {
		t.Error("camera must be released before the caller navigates away")
	}
	if eng.State() != StateSuccess {
		t.Errorf("state = %v, want %v", eng.State(), StateSuccess)
	}
}

func TestCaptureAndSubmitNoMatchKeepsCamera(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.2)}
	src := &fakeSource{}
	gw := &fakeGateway{verifyRes: VerifyResult{Match: false, Message: "Face not recognized.", AttemptsLeft: 2}}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 3
	eng := New(cfg, det, src, gw, &recordSink{})

	ctx := context.Background()
	eng.StartCapture(ctx)
	eng.StartVerifyLoop(ctx)
	defer eng.Teardown()
	eventually(t, time.Second, eng.CaptureArmed, "capture never armed")

	res, err := eng.CaptureAndSubmit(ctx)
	if err != nil {
		t.Fatalf("CaptureAndSubmit: %v", err)
	}
	if res.Match {
		t.Fatal("expected a failed match")
	}
	if eng.State() != StateFailure {
		t.Errorf("state = %v, want %v", eng.State(), StateFailure)
	}
	if eng.AttemptsLeft() != 2 {
		t.Errorf("AttemptsLeft = %d, want 2", eng.AttemptsLeft())
	}
	if src.isClosed() {
		t.Error("a retryable failure must not release the camera")
	}

	eng.Retry()
	if eng.State() != StateCapture {
		t.Errorf("state after retry = %v, want %v", eng.State(), StateCapture)
	}
}

func TestNetworkErrorCountsAsVerificationFailure(t *testing.T) {
	gw := &fakeGateway{verifyErr: errors.New("connection refused")}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 3
	eng := New(cfg, &fakeDetector{t: t}, &fakeSource{}, gw, nil)

	res, err := eng.submitVerification(context.Background(), testDetection(0.2).Descriptor)
	if err != nil {
		t.Fatalf("submitVerification: %v", err)
	}
	if res.Match {
		t.Error("a transport failure must never count as a match")
	}
	if eng.State() != StateFailure {
		t.Errorf("state = %v, want %v", eng.State(), StateFailure)
	}
}

func TestExhaustedAttemptsReturnRedirect(t *testing.T) {
	gw := &fakeGateway{verifyRes: VerifyResult{Match: false, Message: "Attempts exhausted.", Redirect: "/logout", AttemptsLeft: 0}}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 1
	eng := New(cfg, &fakeDetector{t: t}, &fakeSource{}, gw, nil)

	res, err := eng.submitVerification(context.Background(), testDetection(0.2).Descriptor)
	if err != nil {
		t.Fatalf("submitVerification: %v", err)
	}
	if res.Redirect != "/logout" {
		t.Errorf("redirect = %q, want /logout", res.Redirect)
	}
	if eng.AttemptsLeft() != 0 {
		t.Errorf("AttemptsLeft = %d, want 0", eng.AttemptsLeft())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	eng := New(fastConfig(ModeVerify), &fakeDetector{t: t}, src, &fakeGateway{}, nil)
	eng.StartCapture(context.Background())

	eng.Teardown()
	eng.Teardown()

	if !src.isClosed() {
		t.Error("source should be closed")
	}
}
