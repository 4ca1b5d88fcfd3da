// Package pipeline wires the Producer, WorkerPool, Consumer and Monitor
// into a single running pipeline (spec.md section 2) and owns the shared
// stop signal and shutdown ordering (spec.md section 5). No component here
// holds a back-reference to Pipeline itself - everything is handed what it
// needs through its constructor, mirroring the teacher's Thea struct, which
// wires its services together the same way without any service reaching
// back into Thea.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/consumer"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/metrics"
	"github.com/hbomb79/framepipe/internal/pipeline/producer"
	"github.com/hbomb79/framepipe/internal/pipeline/workerpool"
	"github.com/hbomb79/framepipe/pkg/logger"
)

var log = logger.Get("Pipeline")

// drainDeadline bounds graceful shutdown (spec.md section 5): if the
// Producer/WorkerPool/Consumer haven't all exited within this long after
// Stop is called, Pipeline force-closes what remains and dispatches
// DrainTimeout.
const drainDeadline = 30 * time.Second

// Pipeline wires and runs one end-to-end VIDEO/CAMERA session.
type Pipeline struct {
	runID   uuid.UUID
	cfg     config.Config
	bus     event.Bus
	monitor *metrics.Monitor

	pool *workerpool.WorkerPool
	prod *producer.Producer
	cons *consumer.Consumer

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	runErr    error
	runErrMu  sync.Mutex
}

// New validates cfg and wires every actor. executors must contain exactly
// cfg.MaxWorkers warmed Executor instances - the WorkerPool never
// constructs or loads a model itself.
func New(cfg config.Config, source executor.FrameSource, executors []executor.Executor, disp executor.Display) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := event.New()
	monitor := metrics.New(bus, 0)

	pool, err := workerpool.New(cfg, executors, bus, monitor)
	if err != nil {
		return nil, fmt.Errorf("wiring worker pool: %w", err)
	}

	prod := producer.New(source, pool, bus, cfg)
	cons := consumer.New(pool.OutputQueue(), executors[0], disp, bus, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		runID:   uuid.New(),
		cfg:     cfg,
		bus:     bus,
		monitor: monitor,
		pool:    pool,
		prod:    prod,
		cons:    cons,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// RunID uniquely identifies this pipeline instance, e.g. for correlating
// log lines across a multi-session embedder.
func (p *Pipeline) RunID() uuid.UUID { return p.runID }

// Bus exposes the event bus, e.g. for an overlay subscribing to
// FrameDisplayed to drive a UI counter.
func (p *Pipeline) Bus() event.Bus { return p.bus }

// Monitor exposes the running Monitor for stats/overlay use.
func (p *Pipeline) Monitor() *metrics.Monitor { return p.monitor }

// Start brings the WorkerPool online and launches the Producer and
// Consumer loops. Start does not block - call Wait to join, or Stop to
// shut down early.
func (p *Pipeline) Start() error {
	if err := p.pool.Start(); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		if err := p.prod.Run(p.ctx); err != nil {
			p.setErr(err)
			p.cancel()
		}
		// Producer.Run already closed the WorkerPool's InputQueue on its
		// way out (end of stream, or the ctx cancellation above/from an
		// external Stop). Stopping the pool here - rather than waiting for
		// Consumer too - lets workers drain and the OutputQueue close,
		// which is what unblocks Consumer.Run's final Get call.
		p.pool.Stop()
	}()
	go func() {
		defer p.wg.Done()
		if err := p.cons.Run(p.ctx); err != nil {
			p.setErr(err)
			p.cancel()
		}
	}()

	log.Emit(logger.NEW, "pipeline %s started in %s mode\n", p.runID, p.cfg.Mode)
	return nil
}

// Wait blocks until the Producer and Consumer have both exited (end of
// stream, cancellation, or Display quit), then stops the WorkerPool and
// returns the first actor error encountered, if any.
func (p *Pipeline) Wait() error {
	p.wg.Wait()
	p.Stop()
	return p.errOrNil()
}

// Stop signals every actor to shut down and blocks until they do, or until
// drainDeadline elapses - whichever comes first. On timeout it force-closes
// the WorkerPool and dispatches DrainTimeout rather than blocking forever.
// Idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()

		drained := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(drainDeadline):
			log.Emit(logger.WARNING, "drain deadline of %s exceeded - forcing shutdown\n", drainDeadline)
			p.setErr(errs.ErrDrainTimeout)
			p.pool.OutputQueue().Close()
			p.bus.Dispatch(event.DrainTimeout, nil)
		}

		p.pool.Stop()
	})
}

func (p *Pipeline) setErr(err error) {
	p.runErrMu.Lock()
	defer p.runErrMu.Unlock()
	if p.runErr == nil {
		p.runErr = err
	}
}

func (p *Pipeline) errOrNil() error {
	p.runErrMu.Lock()
	defer p.runErrMu.Unlock()
	return p.runErr
}
