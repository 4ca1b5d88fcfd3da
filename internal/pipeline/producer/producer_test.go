package producer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/producer"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/internal/pipeline/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource yields n frames then reports end-of-stream. If failEvery > 0,
// every failEvery-th read fails once before succeeding, exercising the
// CAMERA-mode retry path.
type fakeSource struct {
	mu        sync.Mutex
	remaining int
	failEvery int
	reads     int
}

func (f *fakeSource) Read() (bool, ptypes.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.failEvery > 0 && f.reads%f.failEvery == 0 {
		return false, ptypes.Frame{}
	}
	if f.remaining <= 0 {
		return false, ptypes.Frame{}
	}
	f.remaining--
	return true, ptypes.Frame{}
}
func (f *fakeSource) FPS() float64 { return 0 }
func (f *fakeSource) Close() error { return nil }

// fakeScheduler records every frame handed to it and lets tests force a
// Dropped outcome, either as a clean scheduler-side drop (the common
// load-ratio/queue-full case, which a real WorkerPool already counts and
// dispatches FrameDroppedLoad for) or as a hand-off error (dropErr set).
type fakeScheduler struct {
	mu       sync.Mutex
	accepted int
	drop     bool
	dropErr  error
	closed   atomic.Bool
}

func (s *fakeScheduler) Process(ctx context.Context, frame ptypes.Frame) (workerpool.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropErr != nil {
		return workerpool.Dropped, s.dropErr
	}
	if s.drop {
		return workerpool.Dropped, nil
	}
	s.accepted++
	return workerpool.Accepted, nil
}

func (s *fakeScheduler) CloseInput() { s.closed.Store(true) }

func TestRun_VideoModeConsumesUntilEndOfStream(t *testing.T) {
	src := &fakeSource{remaining: 5}
	sched := &fakeScheduler{}
	bus := event.New()
	cfg := config.DefaultsFor(ptypes.ModeVideo, 1, 1000, 0) // high source fps -> fast test

	p := producer.New(src, sched, bus, cfg)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish")
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, 5, sched.accepted)
	assert.True(t, sched.closed.Load())
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	src := &fakeSource{remaining: 1_000_000}
	sched := &fakeScheduler{}
	bus := event.New()
	cfg := config.DefaultsFor(ptypes.ModeCamera, 1, 0, 1000)

	p := producer.New(src, sched, bus, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
	assert.True(t, sched.closed.Load())
}

func TestRun_CameraModeDispatchesDropEventOnHandoffError(t *testing.T) {
	src := &fakeSource{remaining: 3}
	sched := &fakeScheduler{dropErr: errors.New("queue closing")}
	bus := event.New()
	cfg := config.DefaultsFor(ptypes.ModeCamera, 1, 0, 1000)

	var drops atomic.Int32
	doneCh := make(chan struct{})
	bus.RegisterHandlerFunction(event.FrameDroppedInput, func(event.Event, event.Payload) {
		if drops.Add(1) == 3 {
			close(doneCh)
		}
	})

	p := producer.New(src, sched, bus, cfg)
	go p.Run(context.Background())

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected three FrameDroppedInput dispatches")
	}
}

// TestRun_CameraModeDoesNotDoubleCountSchedulerDrop asserts the Producer
// never re-dispatches a drop for the scheduler's own load-ratio/queue-full
// decision (outcome == Dropped, err == nil) - that decision is already
// counted and dispatched as FrameDroppedLoad inside WorkerPool.Process, and
// the Producer re-counting it would corrupt the produced == accepted +
// dropped conservation identity (spec.md section 8.2).
func TestRun_CameraModeDoesNotDoubleCountSchedulerDrop(t *testing.T) {
	src := &fakeSource{remaining: 1_000_000}
	sched := &fakeScheduler{drop: true}
	bus := event.New()
	cfg := config.DefaultsFor(ptypes.ModeCamera, 1, 0, 1000)

	var drops atomic.Int32
	bus.RegisterHandlerFunction(event.FrameDroppedInput, func(event.Event, event.Payload) {
		drops.Add(1)
	})

	p := producer.New(src, sched, bus, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}

	assert.Equal(t, int32(0), drops.Load())
}

func TestRun_CameraModeRetriesTransientReadFailures(t *testing.T) {
	src := &fakeSource{remaining: 4, failEvery: 3}
	sched := &fakeScheduler{}
	bus := event.New()
	cfg := config.DefaultsFor(ptypes.ModeCamera, 1, 0, 1000)

	p := producer.New(src, sched, bus, cfg)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	// Once the four frames are used up every read fails, the retries run
	// out, and a CAMERA-mode Run reports that as a source error.
	select {
	case err := <-done:
		require.ErrorIs(t, err, errs.ErrSourceUnavailable)
	case <-time.After(10 * time.Second):
		t.Fatal("producer did not finish")
	}

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, 4, sched.accepted)
}
