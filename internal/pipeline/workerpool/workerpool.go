// Package workerpool is the pipeline's scheduler - the hardest subsystem
// (spec.md section 4.3). It owns N preloaded Executors, accepts frames via
// Process (assigning sequence numbers and applying CAMERA-mode
// backpressure/drop), runs inference concurrently across workers, and
// publishes Results to its OutputQueue, reordering them by sequence number
// in VIDEO mode.
//
// Generalised from the teacher's pkg/worker (Start/Close/WaitGroup-managed
// pool of long-lived goroutines) and its pkg/sync.TypedSyncMap, originally
// used for a JWT blacklist and carried over here as
// pkg/syncutil.TypedSyncMap for the pending-results map.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/metrics"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/internal/pipeline/queue"
	"github.com/hbomb79/framepipe/pkg/logger"
	"github.com/hbomb79/framepipe/pkg/syncutil"
)

var log = logger.Get("WorkerPool")

// Outcome is the result of a Process call.
type Outcome int

const (
	Accepted Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Accepted {
		return "Accepted"
	}
	return "Dropped"
}

// workerState mirrors the per-worker state machine from spec.md section
// 4.3: IDLE -> BUSY -> PUBLISHING -> IDLE, with ERROR and STOPPED as the
// failure/terminal branches.
type workerState int32

const (
	stateIdle workerState = iota
	stateBusy
	statePublishing
	stateError
	stateStopped
)

// Stats is a point-in-time snapshot of the pool's scheduling state.
type Stats struct {
	Total     int64
	Completed int64
	Dropped   int64
	InFlight  int32
	QueueDepth int
}

// WorkerPool is the pipeline scheduler described above. The zero value is
// not usable - construct with New.
type WorkerPool struct {
	cfg       config.Config
	executors []executor.Executor
	bus       event.Bus
	monitor   *metrics.Monitor

	inputQueue  *queue.BoundedQueue[ptypes.SequencedFrame]
	outputQueue *queue.BoundedQueue[ptypes.Result]

	seqCounter atomic.Uint64

	// VIDEO-mode ordering: results land in pending keyed by seq, and the
	// publish step (run inside a single critical section guarded by
	// publishMu) drains it in ascending order into outputQueue.
	pending      syncutil.TypedSyncMap[uint64, ptypes.Result]
	publishMu    sync.Mutex
	nextExpected uint64

	// process_sync waiters, keyed by seq.
	waiters syncutil.TypedSyncMap[uint64, chan ptypes.Result]

	busyWorkers atomic.Int32
	total       atomic.Int64
	completed   atomic.Int64
	dropped     atomic.Int64

	states []atomic.Int32

	started   atomic.Bool
	stopping  atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a WorkerPool for cfg, with one Executor per worker. len(executors)
// must equal cfg.MaxWorkers - executors are expected to already be
// constructed and warmed by the caller; model load must never happen on the
// hot path.
func New(cfg config.Config, executors []executor.Executor, bus event.Bus, monitor *metrics.Monitor) (*WorkerPool, error) {
	if len(executors) != cfg.MaxWorkers {
		return nil, fmt.Errorf("%w: expected %d warmed executors, got %d", errs.ErrConfigInvalid, cfg.MaxWorkers, len(executors))
	}

	p := &WorkerPool{
		cfg:         cfg,
		executors:   executors,
		bus:         bus,
		monitor:     monitor,
		inputQueue:  queue.NewBoundedQueue[ptypes.SequencedFrame](cfg.InputCapacity),
		outputQueue: queue.NewBoundedQueue[ptypes.Result](cfg.OutputCapacity),
		states:      make([]atomic.Int32, cfg.MaxWorkers),
	}
	return p, nil
}

// OutputQueue exposes the queue the Consumer drains. Ownership of the queue
// stays with the WorkerPool (it is the one publishing into it); the
// Consumer only ever reads.
func (p *WorkerPool) OutputQueue() *queue.BoundedQueue[ptypes.Result] {
	return p.outputQueue
}

// Start brings N workers online. Idempotent - a second call is a no-op.
func (p *WorkerPool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	for i := range p.executors {
		p.wg.Add(1)
		go p.runWorker(i)
	}

	log.Emit(logger.NEW, "started %d workers in %s mode\n", p.cfg.MaxWorkers, p.cfg.Mode)
	return nil
}

// Process assigns a sequence number to frame and attempts to enqueue it,
// applying CAMERA-mode backpressure/drop. VIDEO mode blocks (via ctx) until
// space is available - it never drops.
func (p *WorkerPool) Process(ctx context.Context, frame ptypes.Frame) (Outcome, error) {
	if p.stopping.Load() {
		return Dropped, errs.ErrQueueClosed
	}

	if p.cfg.Mode == ptypes.ModeCamera {
		load := float64(int(p.busyWorkers.Load()) + p.inputQueue.Size())
		if load/float64(p.cfg.MaxWorkers) >= p.cfg.DropThreshold {
			p.dropped.Add(1)
			p.bus.Dispatch(event.FrameDroppedLoad, uint64(0))
			return Dropped, nil
		}
	}

	seq := p.seqCounter.Add(1) - 1

	var err error
	if p.cfg.Mode == ptypes.ModeVideo {
		err = p.inputQueue.PutCtx(ctx, ptypes.SequencedFrame{Frame: frame, Seq: seq})
	} else {
		err = p.inputQueue.TryPut(ptypes.SequencedFrame{Frame: frame, Seq: seq})
		if err == errs.ErrQueueFull {
			p.dropped.Add(1)
			p.bus.Dispatch(event.FrameDroppedLoad, seq)
			return Dropped, nil
		}
	}
	if err != nil {
		return Dropped, err
	}

	p.total.Add(1)
	p.bus.Dispatch(event.FrameAccepted, nil)
	return Accepted, nil
}

// ProcessSync enqueues frame and blocks for its matching Result, used by
// tests. Returns an error wrapping errs.ErrInferenceTimeout if the deadline
// passes before the Result arrives.
func (p *WorkerPool) ProcessSync(ctx context.Context, frame ptypes.Frame, timeout time.Duration) (ptypes.Result, error) {
	waiter := make(chan ptypes.Result, 1)

	// We need the seq before Process returns control, so we reserve it the
	// same way Process does and enqueue directly - ProcessSync bypasses
	// the CAMERA drop check deliberately, since tests using it want a
	// deterministic accept/wait cycle.
	seq := p.seqCounter.Add(1) - 1
	p.waiters.Store(seq, waiter)
	defer p.waiters.Delete(seq)

	if err := p.inputQueue.PutCtx(ctx, ptypes.SequencedFrame{Frame: frame, Seq: seq}); err != nil {
		return ptypes.Result{}, err
	}
	p.total.Add(1)
	p.bus.Dispatch(event.FrameAccepted, nil)

	select {
	case r := <-waiter:
		return r, nil
	case <-time.After(timeout):
		return ptypes.Result{}, fmt.Errorf("%w: seq %d", errs.ErrInferenceTimeout, seq)
	case <-ctx.Done():
		return ptypes.Result{}, ctx.Err()
	}
}

// CloseInput closes the InputQueue, letting workers drain remaining items
// then exit. Called by the Producer on end-of-stream or stop signal, and by
// Stop as part of full shutdown. Idempotent.
func (p *WorkerPool) CloseInput() {
	p.stopping.Store(true)
	p.inputQueue.Close()
}

// Stop performs graceful shutdown: stop accepting, drain InputQueue, wait
// for in-flight work, close OutputQueue. Idempotent.
func (p *WorkerPool) Stop() {
	p.closeOnce.Do(func() {
		p.CloseInput()
		p.wg.Wait()
		p.outputQueue.Close()
		log.Emit(logger.STOP, "worker pool stopped: total=%d completed=%d dropped=%d\n", p.total.Load(), p.completed.Load(), p.dropped.Load())
	})
}

// Stats returns a snapshot of the scheduler's current load.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Total:      p.total.Load(),
		Completed:  p.completed.Load(),
		Dropped:    p.dropped.Load(),
		InFlight:   p.busyWorkers.Load(),
		QueueDepth: p.inputQueue.Size(),
	}
}

func (p *WorkerPool) runWorker(idx int) {
	defer p.wg.Done()
	ex := p.executors[idx]
	state := &p.states[idx]
	state.Store(int32(stateIdle))

	for {
		sf, err := p.inputQueue.Get(200 * time.Millisecond)
		if err == errs.ErrQueueEmpty {
			continue
		}
		if err == errs.ErrQueueClosed {
			state.Store(int32(stateStopped))
			return
		}

		state.Store(int32(stateBusy))
		p.busyWorkers.Add(1)
		result := p.runInference(ex, sf)
		p.busyWorkers.Add(-1)
		if result.Errored {
			state.Store(int32(stateError))
		}

		state.Store(int32(statePublishing))
		p.publish(sf.Seq, result)
		state.Store(int32(stateIdle))
	}
}

func (p *WorkerPool) runInference(ex executor.Executor, sf ptypes.SequencedFrame) ptypes.Result {
	p.bus.Dispatch(event.ProcessingStarted, sf.Seq)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.InferenceTimeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := ex.Inference(ctx, sf.Frame)
		done <- outcome{payload, err}
	}()

	var result ptypes.Result
	select {
	case o := <-done:
		if o.err != nil {
			log.Emit(logger.ERROR, "inference failed for seq %d: %v\n", sf.Seq, o.err)
			result = ptypes.Result{Seq: sf.Seq, Frame: sf.Frame, Errored: true, Err: fmt.Errorf("%w: %v", errs.ErrInference, o.err)}
		} else {
			result = ptypes.Result{Seq: sf.Seq, Frame: sf.Frame, Payload: o.payload}
		}
	case <-ctx.Done():
		log.Emit(logger.WARNING, "inference timed out for seq %d\n", sf.Seq)
		result = ptypes.Result{Seq: sf.Seq, Frame: sf.Frame, Errored: true, Err: errs.ErrInferenceTimeout}
	}

	p.bus.Dispatch(event.ProcessingEnded, sf.Seq)
	if result.Errored {
		p.monitor.CountProcessedError()
	} else {
		p.bus.Dispatch(event.FrameProcessed, sf.Seq)
	}
	p.completed.Add(1)

	if w, ok := p.waiters.Load(sf.Seq); ok {
		select {
		case w <- result:
		default:
		}
	}

	return result
}

// publish routes a completed Result to the OutputQueue, honoring VIDEO-mode
// ordering. VIDEO: stash into pending and drain ascending-seq runs under
// publishMu. CAMERA: publish immediately, replacing whatever stale Result
// currently occupies the single-slot buffer.
func (p *WorkerPool) publish(seq uint64, result ptypes.Result) {
	if p.cfg.Mode != ptypes.ModeVideo {
		_ = p.outputQueue.ReplaceLatest(result)
		return
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.pending.Store(seq, result)
	for {
		r, ok := p.pending.Load(p.nextExpected)
		if !ok {
			break
		}
		p.pending.Delete(p.nextExpected)
		// VIDEO mode never drops, so a blocking put with a generous
		// timeout is correct here - a stuck Consumer should eventually
		// surface as a drain timeout at the driver level, not a silently
		// lost frame.
		_ = p.outputQueue.Put(r, 30*time.Second)
		p.nextExpected++
	}
}
