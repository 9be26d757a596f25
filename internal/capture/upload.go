package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/unilearn/faceid/internal/descriptor"
)

// maxUploadEdge bounds uploaded images before detection; the model service
// gains nothing from larger inputs.
const maxUploadEdge = 640

// UploadFile is one user-supplied image.
type UploadFile struct {
	Name string
	R    io.Reader
}

// UploadOutcome reports what the upload path produced. Exactly one of the
// fields is meaningful for a given mode: Collected for enroll, Verify for
// verify/login.
type UploadOutcome struct {
	Collected int
	Skipped   []string
	Verify    *VerifyResult
}

// ProcessUploads runs the upload fallback: decode and detect each file in
// order, strictly one at a time. The detector is not reentrant, so the
// sequencing here is a hard constraint, not a style choice. Files beyond the
// mode's limit are silently ignored.
//
// Enroll mode stores the collected descriptors as the sample set; verify
// mode submits the first successful descriptor and discards the rest. When
// no file yields a face, ErrNoFacesDetected is returned and nothing is
// submitted.
func (e *Engine) ProcessUploads(ctx context.Context, files []UploadFile) (*UploadOutcome, error) {
	if limit := e.cfg.Mode.UploadLimit(); len(files) > limit {
		files = files[:limit]
	}

	outcome := &UploadOutcome{}
	var descs []descriptor.Descriptor

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.sink.Status(fmt.Sprintf("Processing image %d/%d…", i+1, len(files)))

		img, err := decodeUpload(f.R)
		if err != nil {
			// Undecodable files get the same treatment as faceless ones.
			outcome.Skipped = append(outcome.Skipped, f.Name)
			e.sink.Status(fmt.Sprintf("No face detected in image %d, skipped.", i+1))
			if err := e.sleep(ctx, e.cfg.SkipPause); err != nil {
				return nil, err
			}
			continue
		}

		det, err := e.detector.DetectSingle(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			det = nil
		}
		if det == nil {
			outcome.Skipped = append(outcome.Skipped, f.Name)
			e.sink.Status(fmt.Sprintf("No face detected in image %d, skipped.", i+1))
			if err := e.sleep(ctx, e.cfg.SkipPause); err != nil {
				return nil, err
			}
			continue
		}

		descs = append(descs, det.Descriptor)
	}

	if len(descs) == 0 {
		e.sink.Status("No faces detected in any of the uploaded images. Please try again with clearer photos.")
		return nil, ErrNoFacesDetected
	}

	outcome.Collected = len(descs)

	if e.cfg.Mode == ModeEnroll {
		e.mu.Lock()
		e.samples = descs
		e.mu.Unlock()
		e.sink.CaptureProgress(len(descs), e.cfg.TargetSamples)
		e.sink.Status(fmt.Sprintf("%d face(s) processed successfully!", len(descs)))
		return outcome, nil
	}

	e.sink.Status("Verifying your face…")
	res, err := e.submitVerification(ctx, descs[0])
	if err != nil {
		return nil, err
	}
	outcome.Verify = &res
	return outcome, nil
}

// decodeUpload decodes an uploaded image and downscales it so the longest
// edge fits maxUploadEdge.
func decodeUpload(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxUploadEdge && h <= maxUploadEdge {
		return img, nil
	}

	scale := float64(maxUploadEdge) / float64(w)
	if h > w {
		scale = float64(maxUploadEdge) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, nil
}
