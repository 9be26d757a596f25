package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/unilearn/faceid/internal/capture"
	"github.com/unilearn/faceid/internal/config"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Capture and submit a face enrollment",
	Long: `Capture face descriptors and submit them as an enrollment.

Frames are read from a directory (--dir) to simulate a camera feed, or
individual photos are uploaded with --file when no camera is available.
The CSRF token comes from the enrollment page of an authenticated session.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("server", "http://localhost:8080", "Base URL of the Face ID server")
	enrollCmd.Flags().String("csrf-token", "", "CSRF token issued by the enrollment page")
	enrollCmd.Flags().String("dir", "", "Directory of camera frames to capture from")
	enrollCmd.Flags().StringSlice("file", nil, "Photo to upload instead of capturing (repeatable, max 5)")
	enrollCmd.Flags().Bool("consent", false, "Consent to storing face descriptors")
}

// openUploads opens the given paths as upload files. The caller gets a cleanup
// function that closes everything.
func openUploads(paths []string) ([]capture.UploadFile, func(), error) {
	files := make([]capture.UploadFile, 0, len(paths))
	handles := make([]*os.File, 0, len(paths))
	cleanup := func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open %s: %w", p, err)
		}
		handles = append(handles, f)
		files = append(files, capture.UploadFile{Name: filepath.Base(p), R: f})
	}
	return files, cleanup, nil
}

func runEnroll(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "consent") {
		return errors.New("enrollment stores biometric data; pass --consent to proceed")
	}
	token := mustGetString(cmd, "csrf-token")
	if token == "" {
		return errors.New("--csrf-token is required")
	}
	server := mustGetString(cmd, "server")
	dir := mustGetString(cmd, "dir")
	paths := mustGetStringSlice(cmd, "file")
	if dir == "" && len(paths) == 0 {
		return errors.New("either --dir or --file is required")
	}

	cfg := config.Load()
	ctx := cmd.Context()

	det := capture.NewHTTPDetector(cfg.Model.URL, cfg.Model.Models)
	if err := det.WaitReady(ctx); err != nil {
		return fmt.Errorf("model service not ready: %w", err)
	}

	gw := capture.NewHTTPGateway(server+"/api/face/enroll", server+"/api/face/verify", token)
	var src capture.FrameSource
	if dir != "" {
		src = capture.NewDirSource(dir)
	}

	eng := capture.New(capture.Config{
		Mode:           capture.ModeEnroll,
		TargetSamples:  cfg.Face.EnrollTargetFrames,
		CaptureTimeout: cfg.Face.CaptureTimeout,
	}, det, src, gw, newTerminalSink())

	if err := eng.LoadModels(ctx); err != nil {
		return err
	}

	if len(paths) > 0 {
		files, cleanup, err := openUploads(paths)
		if err != nil {
			return err
		}
		defer cleanup()

		outcome, err := eng.ProcessUploads(ctx, files)
		if err != nil {
			return err
		}
		fmt.Printf("Collected %d descriptor(s)", outcome.Collected)
		if len(outcome.Skipped) > 0 {
			fmt.Printf(", skipped: %v", outcome.Skipped)
		}
		fmt.Println()
	} else {
		if !eng.StartCapture(ctx) {
			return errors.New("frame source unavailable; retry with --file")
		}
		defer eng.Teardown()
		if err := eng.RunEnrollCapture(ctx); err != nil {
			return err
		}
	}

	eng.SetConsent(true)
	res, err := eng.SubmitEnrollment(ctx)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("enrollment rejected: %s", res.Error)
	}
	fmt.Println("Enrollment stored. Face ID is now active for this account.")
	return nil
}
