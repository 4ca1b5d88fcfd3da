// Package executor defines the pipeline's external collaborator surfaces:
// Executor (the opaque model wrapper), FrameSource (frame acquisition) and
// Display (the render sink). These are Go interfaces only - the concrete
// model, camera driver and display surface are out of scope for this
// repository (see spec.md section 1).
package executor

import (
	"context"

	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
)

// Executor wraps a single opaque, preloaded model handle. At most one
// Inference call is in flight per Executor at any time - the WorkerPool
// enforces this by giving each worker exclusive ownership of one Executor
// for the worker's lifetime.
type Executor interface {
	// Inference runs the model against frame and returns its result. The
	// context carries the per-frame inference deadline.
	Inference(ctx context.Context, frame ptypes.Frame) (any, error)

	// Visualize renders result onto frame, returning the frame to display.
	Visualize(frame ptypes.Frame, result any) ptypes.Frame

	// Close releases whatever resources the model handle holds. Neither
	// the WorkerPool nor the Pipeline calls Close, including at shutdown.
	Close() error
}

// FrameSource yields raw frames plus a nominal FPS. Implementations are
// expected to be a thin wrapper over a camera/video driver.
type FrameSource interface {
	// Read returns the next frame. ok is false on end-of-stream (VIDEO) or
	// a transient read failure (CAMERA, where the Producer retries).
	Read() (ok bool, frame ptypes.Frame)
	// FPS returns the source's nominal frame rate, or 0 if unknown.
	FPS() float64
	Close() error
}

// Display is the render sink: show a frame, poll for a user-initiated
// quit, and release resources on Close.
type Display interface {
	Show(frame ptypes.Frame)
	PollQuit() bool
	Close() error
}
