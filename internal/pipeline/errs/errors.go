// Package errs defines the pipeline's error taxonomy as sentinel values,
// inspected with errors.Is/errors.As - the teacher's plain-errors style
// (see internal/queue/troubles.go and internal/ffmpeg in the teacher repo),
// kept in its own leaf package so every other pipeline package can return
// these errors without importing the driver.
package errs

import "errors"

// Error taxonomy. Per-frame errors (InferenceError, InferenceTimeout,
// QueueFull, QueueClosed) are recovered locally by the component that
// observes them and never surface to the driver; only ConfigError,
// SourceError and DrainTimeout are fatal and propagate up to the driver.
var (
	// ErrConfigInvalid wraps a Config.Validate() failure. Fatal at startup.
	ErrConfigInvalid = errors.New("pipeline: invalid config")

	// ErrSourceUnavailable is returned when the FrameSource cannot be
	// opened, or (in CAMERA mode, mid-run) when retries have been
	// exhausted.
	ErrSourceUnavailable = errors.New("pipeline: frame source unavailable")

	// ErrInference wraps an error raised by Executor.Inference for a
	// single frame. Non-fatal: the pool emits an errored sentinel Result
	// carrying the frame's seq so ordering can advance past it.
	ErrInference = errors.New("pipeline: inference failed")

	// ErrInferenceTimeout is returned when inference exceeds the
	// configured InferenceTimeout for a single frame. Same recovery
	// policy as ErrInference.
	ErrInferenceTimeout = errors.New("pipeline: inference timed out")

	// ErrQueueFull is returned by BoundedQueue.Put/TryPut when the queue
	// is at capacity. In CAMERA mode this is an intentional, counted
	// drop and is never surfaced past the Producer/WorkerPool.
	ErrQueueFull = errors.New("pipeline: queue full")

	// ErrQueueEmpty is returned by BoundedQueue.Get when no item became
	// available before the timeout elapsed.
	ErrQueueEmpty = errors.New("pipeline: queue empty")

	// ErrQueueClosed is returned by Put after Close, and by Get once a
	// closed queue has been fully drained. Normal shutdown path, swallowed
	// by the receiver.
	ErrQueueClosed = errors.New("pipeline: queue closed")

	// ErrDrainTimeout is returned by the driver when graceful shutdown
	// exceeds the shutdown deadline (default 30s). The driver force-closes
	// the OutputQueue, discards remaining items, and exits with a non-zero
	// code.
	ErrDrainTimeout = errors.New("pipeline: drain timeout exceeded")
)
