package capture

import "image"

// StatusSink receives real-time feedback from the engine: state transitions,
// status lines, progress counters, and the overlay bounding box. All methods
// are called from the engine's goroutines and must be cheap.
type StatusSink interface {
	StateChanged(s State)
	Status(msg string)
	CaptureProgress(captured, target int)
	ModelProgress(loaded, total int)
	Overlay(box *image.Rectangle)
}

// NopSink discards all feedback.
type NopSink struct{}

func (NopSink) StateChanged(State)        {}
func (NopSink) Status(string)             {}
func (NopSink) CaptureProgress(int, int)  {}
func (NopSink) ModelProgress(int, int)    {}
func (NopSink) Overlay(*image.Rectangle)  {}
