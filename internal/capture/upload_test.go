package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"
)

func pngFile(t *testing.T, name string) UploadFile {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return UploadFile{Name: name, R: &buf}
}

func pngFiles(t *testing.T, n int) []UploadFile {
	t.Helper()
	files := make([]UploadFile, n)
	for i := range files {
		files[i] = pngFile(t, fmt.Sprintf("photo-%d.png", i))
	}
	return files
}

func TestProcessUploadsEnrollCollectsDetectedFaces(t *testing.T) {
	det := &fakeDetector{t: t, script: []*Detection{testDetection(0.1), nil, testDetection(0.2)}}
	sink := &recordSink{}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, sink)

	outcome, err := eng.ProcessUploads(context.Background(), pngFiles(t, 3))
	if err != nil {
		t.Fatalf("ProcessUploads: %v", err)
	}
	if outcome.Collected != 2 {
		t.Errorf("Collected = %d, want 2", outcome.Collected)
	}
	if len(outcome.Skipped) != 1 {
		t.Errorf("Skipped = %v, want one entry", outcome.Skipped)
	}
	if eng.SampleCount() != 2 {
		t.Errorf("SampleCount = %d, want 2", eng.SampleCount())
	}
	if captured, target := sink.lastProgress(); captured != 2 || target != 5 {
		t.Errorf("progress = %d/%d, want 2/5", captured, target)
	}

	eng.SetConsent(true)
	if !eng.SubmitEnabled() {
		t.Error("a partial upload batch with consent should enable submission")
	}
}

func TestProcessUploadsNoFacesAnywhere(t *testing.T) {
	det := &fakeDetector{t: t} // no face in any image
	gw := &fakeGateway{}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, gw, nil)

	_, err := eng.ProcessUploads(context.Background(), pngFiles(t, 3))
	if !errors.Is(err, ErrNoFacesDetected) {
		t.Fatalf("err = %v, want ErrNoFacesDetected", err)
	}
	if eng.SampleCount() != 0 {
		t.Error("no samples should be stored")
	}
	if gw.enrollCalls != 0 || gw.verifyCount() != 0 {
		t.Error("nothing should be submitted")
	}
}

func TestProcessUploadsEnrollIgnoresExcessFiles(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.1)}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, nil)

	outcome, err := eng.ProcessUploads(context.Background(), pngFiles(t, 8))
	if err != nil {
		t.Fatalf("ProcessUploads: %v", err)
	}
	if outcome.Collected != 5 {
		t.Errorf("Collected = %d, want 5", outcome.Collected)
	}
	if det.callCount() != 5 {
		t.Errorf("detector ran %d times, want 5", det.callCount())
	}
}

func TestProcessUploadsVerifySubmitsFirstDescriptor(t *testing.T) {
	want := testDetection(0.3)
	det := &fakeDetector{t: t, fallback: want}
	gw := &fakeGateway{verifyRes: VerifyResult{Match: true, Redirect: "/dashboard"}}
	cfg := fastConfig(ModeVerify)
	cfg.AttemptsLeft = 3
	eng := New(cfg, det, &fakeSource{}, gw, nil)

	outcome, err := eng.ProcessUploads(context.Background(), pngFiles(t, 4))
	if err != nil {
		t.Fatalf("ProcessUploads: %v", err)
	}
	// Verify mode takes a single file; the rest of the batch is ignored.
	if det.callCount() != 1 {
		t.Errorf("detector ran %d times, want 1", det.callCount())
	}
	if gw.verifyCount() != 1 {
		t.Errorf("verify submissions = %d, want 1", gw.verifyCount())
	}
	if gw.lastDescriptor[0] != want.Descriptor[0] {
		t.Error("the first collected descriptor should be the one submitted")
	}
	if outcome.Verify == nil || !outcome.Verify.Match {
		t.Errorf("outcome.Verify = %+v, want a match", outcome.Verify)
	}
}

func TestProcessUploadsSkipsUndecodableFiles(t *testing.T) {
	det := &fakeDetector{t: t, fallback: testDetection(0.1)}
	eng := New(fastConfig(ModeEnroll), det, &fakeSource{}, &fakeGateway{}, nil)

	files := []UploadFile{
		pngFile(t, "good.png"),
		{Name: "notes.txt", R: strings.NewReader("not an image")},
	}
	outcome, err := eng.ProcessUploads(context.Background(), files)
	if err != nil {
		t.Fatalf("ProcessUploads: %v", err)
	}
	if outcome.Collected != 1 {
		t.Errorf("Collected = %d, want 1", outcome.Collected)
	}
	if len(outcome.Skipped) != 1 || outcome.Skipped[0] != "notes.txt" {
		t.Errorf("Skipped = %v, want [notes.txt]", outcome.Skipped)
	}
}
