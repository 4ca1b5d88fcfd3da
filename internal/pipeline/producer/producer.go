// Package producer implements the pipeline's Producer actor (spec.md
// section 4.2): it paces frame acquisition from a FrameSource to the
// configured target FPS and hands each frame to the scheduler (WorkerPool).
//
// Pacing is grounded on golang.org/x/time/rate, the same limiter family the
// teacher's internal/ffmpeg progress reporter throttles updates with. The
// CAMERA-mode non-blocking handoff does not use the limiter: it is the
// Scheduler's Process call that accepts or drops (see handoff). Transient
// CAMERA read failures are retried with github.com/avast/retry-go/v4,
// pulled in from the broader example pack for exactly this purpose.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/internal/pipeline/workerpool"
	"github.com/hbomb79/framepipe/pkg/logger"
	"golang.org/x/time/rate"
)

var log = logger.Get("Producer")

// Scheduler is the slice of WorkerPool the Producer depends on. Declaring
// it here (rather than importing *workerpool.WorkerPool directly into the
// field type) keeps the Producer's contract testable against a fake
// scheduler without spinning up real workers.
type Scheduler interface {
	Process(ctx context.Context, frame ptypes.Frame) (workerpool.Outcome, error)
}

// Producer drives a FrameSource at a target FPS and hands frames to a
// Scheduler. Construct with New; run with Run.
type Producer struct {
	source    executor.FrameSource
	scheduler Scheduler
	bus       event.Bus
	cfg       config.Config
	limiter   *rate.Limiter
}

// New constructs a Producer. cfg.TargetFPS <= 0 is treated as unset and
// falls back to 30fps (spec.md section 4.2 edge case) - callers normally
// avoid this by routing through config.DefaultsFor first, but Producer
// re-checks defensively since it is the component that actually owns the
// limiter.
func New(source executor.FrameSource, scheduler Scheduler, bus event.Bus, cfg config.Config) *Producer {
	fps := cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}
	return &Producer{
		source:    source,
		scheduler: scheduler,
		bus:       bus,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(fps), 1),
	}
}

// Run drives the acquire/pace/hand-off loop until the FrameSource reaches
// end-of-stream, ctx is cancelled (the shared stop signal), or - in VIDEO
// mode only - a read failure occurs (treated as EOF). It always closes the
// scheduler's InputQueue before returning, regardless of how the loop
// ended, so downstream workers drain and exit instead of blocking forever.
func (p *Producer) Run(ctx context.Context) error {
	defer func() {
		if closer, ok := p.scheduler.(interface{ CloseInput() }); ok {
			closer.CloseInput()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			log.Emit(logger.STOP, "producer stopping: %v\n", err)
			return nil
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return nil // context cancelled while waiting to pace
		}

		frame, err := p.readFrame(ctx)
		if err != nil {
			if err == errEndOfStream {
				log.Emit(logger.STOP, "producer reached end of stream\n")
				return nil
			}
			log.Emit(logger.ERROR, "producer source error: %v\n", err)
			return fmt.Errorf("%w: %v", errs.ErrSourceUnavailable, err)
		}

		// FrameEmitted fires for every frame the source yields, independent
		// of the scheduler's later accept/drop decision - this is the
		// "produced" side of the conservation identity (spec.md section
		// 8.2), dispatched once per read rather than once per accept.
		p.bus.Dispatch(event.FrameEmitted, nil)
		p.handoff(ctx, frame)
	}
}

var errEndOfStream = fmt.Errorf("producer: end of stream")

// readFrame reads one frame from the source. VIDEO mode treats a failed
// read as end-of-stream; CAMERA mode makes up to three read attempts in
// total, with a backoff that starts at one second and doubles between
// attempts, before giving up (spec.md section 4.2).
func (p *Producer) readFrame(ctx context.Context) (ptypes.Frame, error) {
	if p.cfg.Mode == ptypes.ModeVideo {
		ok, frame := p.source.Read()
		if !ok {
			return ptypes.Frame{}, errEndOfStream
		}
		return frame, nil
	}

	var frame ptypes.Frame
	err := retry.Do(
		func() error {
			ok, f := p.source.Read()
			if !ok {
				return errs.ErrSourceUnavailable
			}
			frame = f
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return ptypes.Frame{}, err
	}
	return frame, nil
}

// handoff hands frame to the scheduler. VIDEO blocks (via ctx) until
// accepted - it never drops at this boundary. CAMERA's Process call is
// already non-blocking internally (the scheduler applies its load-ratio
// check and a TryPut) and is the single authoritative drop decision (spec.md
// section 9): a load- or queue-full-based drop (outcome == Dropped, err ==
// nil) has already been counted and dispatched as FrameDroppedLoad inside
// Process, so it is not re-counted here. Only a genuine hand-off error -
// something Process couldn't resolve to a load-based drop, e.g. a shutdown
// race - is counted as FrameDroppedInput, so a single dropped frame is never
// counted twice.
func (p *Producer) handoff(ctx context.Context, frame ptypes.Frame) {
	_, err := p.scheduler.Process(ctx, frame)
	if p.cfg.Mode == ptypes.ModeVideo {
		if err != nil && ctx.Err() == nil {
			log.Emit(logger.WARNING, "producer hand-off failed: %v\n", err)
		}
		return
	}

	if err != nil {
		log.Emit(logger.WARNING, "producer hand-off failed: %v\n", err)
		p.bus.Dispatch(event.FrameDroppedInput, nil)
	}
}
