// Package demo provides synthetic FrameSource/Executor/Display
// implementations used only by main.go to make the binary runnable without
// a real model, camera driver or display surface, all of which are out of
// scope for this repository (spec.md section 1 Non-goals).
package demo

import (
	"context"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/pkg/logger"
)

var log = logger.Get("Demo")

// SyntheticSource yields count empty frames, then reports end-of-stream.
type SyntheticSource struct {
	remaining int
	fps       float64
}

func NewSyntheticSource(count int, fps float64) *SyntheticSource {
	return &SyntheticSource{remaining: count, fps: fps}
}

func (s *SyntheticSource) Read() (bool, ptypes.Frame) {
	if s.remaining <= 0 {
		return false, ptypes.Frame{}
	}
	s.remaining--
	return true, ptypes.Frame{CapturedAt: time.Now()}
}

func (s *SyntheticSource) FPS() float64 { return s.fps }
func (s *SyntheticSource) Close() error { return nil }

// NoopExecutor performs no real inference - it exists only to exercise the
// WorkerPool's scheduling, ordering and timeout machinery.
type NoopExecutor struct{}

func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

func (e *NoopExecutor) Inference(ctx context.Context, frame ptypes.Frame) (any, error) {
	return struct{}{}, nil
}

func (e *NoopExecutor) Visualize(frame ptypes.Frame, result any) ptypes.Frame {
	return frame
}

func (e *NoopExecutor) Close() error { return nil }

// LogDisplay "shows" a frame by logging it. It never requests a quit.
type LogDisplay struct {
	shown int
}

func NewLogDisplay() *LogDisplay { return &LogDisplay{} }

func (d *LogDisplay) Show(frame ptypes.Frame) {
	d.shown++
	log.Emit(logger.VERBOSE, "displayed frame %d (captured_at=%s)\n", d.shown, frame.CapturedAt)
}

func (d *LogDisplay) PollQuit() bool { return false }
func (d *LogDisplay) Close() error   { return nil }
