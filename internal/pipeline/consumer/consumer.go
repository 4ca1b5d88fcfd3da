// Package consumer implements the pipeline's Consumer actor (spec.md
// section 4.4): it drains the WorkerPool's OutputQueue, renders each Result
// via the Executor's Visualize step, and shows it on the Display - pacing
// itself with the same golang.org/x/time/rate limiter family the Producer
// uses.
package consumer

import (
	"context"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/internal/pipeline/queue"
	"github.com/hbomb79/framepipe/pkg/logger"
	"golang.org/x/time/rate"
)

var log = logger.Get("Consumer")

// videoGracePeriod is how long VIDEO-mode Consumer holds the last displayed
// frame on screen after the OutputQueue runs dry, so a short gap upstream
// doesn't flash the display blank (spec.md section 4.4).
const videoGracePeriod = time.Second

// getTimeout bounds each OutputQueue.Get poll. It must stay well under
// videoGracePeriod so the grace-period deadline is checked promptly.
const getTimeout = 100 * time.Millisecond

// Consumer drains an OutputQueue, visualizes each Result via ex, and shows
// it via disp. Construct with New; run with Run.
type Consumer struct {
	out     *queue.BoundedQueue[ptypes.Result]
	ex      executor.Executor
	disp    executor.Display
	bus     event.Bus
	cfg     config.Config
	limiter *rate.Limiter
}

// New constructs a Consumer. cfg.TargetFPS <= 0 falls back to 30fps, same
// as the Producer.
func New(out *queue.BoundedQueue[ptypes.Result], ex executor.Executor, disp executor.Display, bus event.Bus, cfg config.Config) *Consumer {
	fps := cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}
	return &Consumer{
		out:     out,
		ex:      ex,
		disp:    disp,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
}

// Run drains, visualizes and displays Results until the OutputQueue closes,
// ctx is cancelled, or the Display reports a user-initiated quit.
func (c *Consumer) Run(ctx context.Context) error {
	var lastFrame ptypes.Frame
	haveLast := false
	idleSince := time.Time{}

	for {
		if ctx.Err() != nil {
			log.Emit(logger.STOP, "consumer stopping: %v\n", ctx.Err())
			return nil
		}
		if c.disp.PollQuit() {
			log.Emit(logger.STOP, "consumer stopping: display quit requested\n")
			return nil
		}

		result, err := c.out.Get(getTimeout)
		if err == errs.ErrQueueEmpty {
			if c.cfg.Mode == ptypes.ModeVideo && haveLast {
				if idleSince.IsZero() {
					idleSince = time.Now()
				}
				if time.Since(idleSince) < videoGracePeriod && ctx.Err() == nil {
					c.disp.Show(lastFrame)
				}
			}
			continue
		}
		if err == errs.ErrQueueClosed {
			return nil
		}

		idleSince = time.Time{}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		rendered := result.Frame
		if !result.Errored {
			rendered = c.ex.Visualize(result.Frame, result.Payload)
		}
		c.disp.Show(rendered)
		lastFrame = rendered
		haveLast = true

		c.bus.Dispatch(event.FrameDisplayed, result.Seq)
	}
}
