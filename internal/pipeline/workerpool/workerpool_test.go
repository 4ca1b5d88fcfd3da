package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/config"
	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/internal/pipeline/executor"
	"github.com/hbomb79/framepipe/internal/pipeline/metrics"
	"github.com/hbomb79/framepipe/internal/pipeline/ptypes"
	"github.com/hbomb79/framepipe/internal/pipeline/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor tags every result with the worker index it ran on and can be
// told to sleep (to exercise the inference timeout path) or fail.
type fakeExecutor struct {
	idx     int
	delay   time.Duration
	failErr error
}

func (f *fakeExecutor) Inference(ctx context.Context, frame ptypes.Frame) (any, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.idx, nil
}
func (f *fakeExecutor) Visualize(frame ptypes.Frame, result any) ptypes.Frame { return frame }
func (f *fakeExecutor) Close() error                                         { return nil }

func newPool(t *testing.T, mode ptypes.PipelineMode, workers int) (*workerpool.WorkerPool, event.Bus) {
	t.Helper()
	bus := event.New()
	mon := metrics.New(bus, 1)

	cfg := config.DefaultsFor(mode, workers, 0, 0)
	cfg.InferenceTimeout = 2 * time.Second

	execs := make([]executor.Executor, workers)
	for i := range execs {
		execs[i] = &fakeExecutor{idx: i}
	}

	pool, err := workerpool.New(cfg, execs, bus, mon)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	return pool, bus
}

func TestOrdering_VideoModePreservesSequence(t *testing.T) {
	pool, _ := newPool(t, ptypes.ModeVideo, 4)
	defer pool.Stop()

	const n = 30
	results := make([]ptypes.Result, 0, n)
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		oq := pool.OutputQueue()
		for i := 0; i < n; i++ {
			r, err := oq.Get(2 * time.Second)
			require.NoError(t, err)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}
		close(done)
	}()

	for i := 0; i < n; i++ {
		_, err := pool.Process(context.Background(), ptypes.Frame{})
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for all results")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, uint64(i), r.Seq, "result %d out of order", i)
	}
}

func TestBackpressure_CameraModeDropsUnderLoad(t *testing.T) {
	bus := event.New()
	mon := metrics.New(bus, 1)
	cfg := config.DefaultsFor(ptypes.ModeCamera, 1, 0, 0)
	cfg.InferenceTimeout = 500 * time.Millisecond

	execs := []executor.Executor{&fakeExecutor{idx: 0, delay: 300 * time.Millisecond}}
	pool, err := workerpool.New(cfg, execs, bus, mon)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var accepted, dropped int
	for i := 0; i < 20; i++ {
		outcome, err := pool.Process(context.Background(), ptypes.Frame{})
		require.NoError(t, err)
		if outcome == workerpool.Accepted {
			accepted++
		} else {
			dropped++
		}
	}

	assert.Greater(t, dropped, 0, "expected at least one drop under sustained single-worker load")
	_ = accepted
}

func TestProcessSync_TimesOutOnSlowExecutor(t *testing.T) {
	bus := event.New()
	mon := metrics.New(bus, 1)
	cfg := config.DefaultsFor(ptypes.ModeVideo, 1, 0, 0)
	cfg.InferenceTimeout = 5 * time.Second

	execs := []executor.Executor{&fakeExecutor{idx: 0, delay: 2 * time.Second}}
	pool, err := workerpool.New(cfg, execs, bus, mon)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	_, err = pool.ProcessSync(context.Background(), ptypes.Frame{}, 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInferenceTimeout))
}

func TestProcessSync_ReturnsErroredResultOnFailure(t *testing.T) {
	bus := event.New()
	mon := metrics.New(bus, 1)
	cfg := config.DefaultsFor(ptypes.ModeVideo, 1, 0, 0)

	failure := errors.New("model exploded")
	execs := []executor.Executor{&fakeExecutor{idx: 0, failErr: failure}}
	pool, err := workerpool.New(cfg, execs, bus, mon)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	r, err := pool.ProcessSync(context.Background(), ptypes.Frame{}, time.Second)
	require.NoError(t, err)
	assert.True(t, r.Errored)
	assert.True(t, errors.Is(r.Err, errs.ErrInference))
}

func TestStop_IsIdempotentAndDrainsInFlightWork(t *testing.T) {
	pool, _ := newPool(t, ptypes.ModeVideo, 2)

	_, err := pool.Process(context.Background(), ptypes.Frame{})
	require.NoError(t, err)

	pool.Stop()
	pool.Stop() // must not panic or block a second time

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Total)
}
