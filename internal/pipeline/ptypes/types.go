// Package ptypes holds the payload types shared across every pipeline
// actor (Frame, SequencedFrame, Result, PipelineMode). It has no
// dependencies on the rest of the pipeline so every other package can
// import it without risking an import cycle.
package ptypes

import "time"

// Frame is one unit of input data pulled from a FrameSource. It is immutable
// once handed to the Producer's InputQueue.
type Frame struct {
	// Pixels is the opaque pixel buffer for this frame. The pipeline never
	// inspects its contents - only the Executor implementation does.
	Pixels []byte
	// CapturedAt is the timestamp at which the frame was read from the
	// source, used for pacing diagnostics only.
	CapturedAt time.Time
}

// SequencedFrame pairs a Frame with a sequence number assigned at
// acceptance by the WorkerPool. Sequence numbers are unique and
// monotonically increasing within a single pipeline run.
type SequencedFrame struct {
	Frame Frame
	Seq   uint64
}

// Result is the Executor's output for one SequencedFrame. Errored is set
// when inference failed or timed out; Payload and the visualised frame are
// then undefined and should not be rendered.
type Result struct {
	Seq     uint64
	Frame   Frame
	Payload any
	Errored bool
	Err     error
}

// PipelineMode selects the operating discipline for an entire run. It is
// fixed for the duration of a run - see Config.
type PipelineMode string

const (
	// ModeVideo is completeness-first: no frame loss, strict result
	// ordering, large buffers.
	ModeVideo PipelineMode = "VIDEO"
	// ModeCamera is latency-first: drop under load, no ordering
	// guarantee, minimal buffers.
	ModeCamera PipelineMode = "CAMERA"
)
