package cmd

import (
	"fmt"
	"image"

	"github.com/schollz/progressbar/v3"

	"github.com/unilearn/faceid/internal/capture"
)

// terminalSink renders engine feedback on the terminal: progress bars for
// model loading and frame collection, plain lines for everything else.
type terminalSink struct {
	modelBar   *progressbar.ProgressBar
	captureBar *progressbar.ProgressBar
}

func newTerminalSink() *terminalSink {
	return &terminalSink{}
}

func (s *terminalSink) StateChanged(st capture.State) {
	fmt.Printf("\n[%s]\n", st)
}

func (s *terminalSink) Status(msg string) {
	fmt.Println(msg)
}

func (s *terminalSink) ModelProgress(loaded, total int) {
	if s.modelBar == nil {
		s.modelBar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Loading models"),
			progressbar.OptionShowCount(),
		)
	}
	_ = s.modelBar.Set(loaded)
	if loaded == total {
		_ = s.modelBar.Finish()
		fmt.Println()
	}
}

func (s *terminalSink) CaptureProgress(captured, target int) {
	if s.captureBar == nil {
		s.captureBar = progressbar.NewOptions(target,
			progressbar.OptionSetDescription("Capturing frames"),
			progressbar.OptionShowCount(),
		)
	}
	_ = s.captureBar.Set(captured)
	if captured == target {
		_ = s.captureBar.Finish()
		fmt.Println()
	}
}

// Overlay is only meaningful for a graphical surface.
func (s *terminalSink) Overlay(*image.Rectangle) {}
