package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/unilearn/faceid/internal/capture"
	"github.com/unilearn/faceid/internal/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the face verification step",
	Long: `Run the face verification step against a pending session gate.

Frames are read from a directory (--dir) to simulate a camera feed; the
loop submits as soon as a face is detected and retries on a failed match
until the server's attempt budget runs out. A single photo can be
submitted with --file when no camera is available.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("server", "http://localhost:8080", "Base URL of the Face ID server")
	verifyCmd.Flags().String("csrf-token", "", "CSRF token issued by the verification page")
	verifyCmd.Flags().String("dir", "", "Directory of camera frames to capture from")
	verifyCmd.Flags().String("file", "", "Photo to upload instead of capturing")
}

func runVerify(cmd *cobra.Command, args []string) error {
	token := mustGetString(cmd, "csrf-token")
	if token == "" {
		return errors.New("--csrf-token is required")
	}
	server := mustGetString(cmd, "server")
	dir := mustGetString(cmd, "dir")
	file := mustGetString(cmd, "file")
	if dir == "" && file == "" {
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
		Mode:         capture.ModeVerify,
		AttemptsLeft: cfg.Face.VerifyMaxAttempts,
	}, det, src, gw, newTerminalSink())

	if err := eng.LoadModels(ctx); err != nil {
		return err
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close()

		outcome, err := eng.ProcessUploads(ctx, []capture.UploadFile{{Name: filepath.Base(file), R: f}})
		if err != nil {
			return err
		}
		return reportVerify(*outcome.Verify)
	}

	if !eng.StartCapture(ctx) {
		return errors.New("frame source unavailable; retry with --file")
	}
	defer eng.Teardown()
	eng.StartVerifyLoop(ctx)

	deadline := time.Now().Add(cfg.Face.CaptureTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errors.New("no face captured before the timeout")
		}

		if eng.CaptureArmed() {
			res, err := eng.CaptureAndSubmit(ctx)
			if err != nil {
				if errors.Is(err, capture.ErrNoCandidate) {
					continue
				}
				return err
			}
			if res.Match {
				return reportVerify(res)
			}
			if res.AttemptsLeft <= 0 {
				return reportVerify(res)
			}
			eng.Retry()
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func reportVerify(res capture.VerifyResult) error {
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	if res.Match {
		if res.Redirect != "" {
			fmt.Printf("Continue to %s\n", res.Redirect)
		}
		return nil
	}
	return fmt.Errorf("verification failed (%d attempt(s) left)", res.AttemptsLeft)
}
