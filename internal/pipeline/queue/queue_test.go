package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/errs"
	"github.com/hbomb79/framepipe/internal/pipeline/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet_FIFO(t *testing.T) {
	q := queue.NewBoundedQueue[int](4)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(i, time.Second))
	}

	for i := 0; i < 4; i++ {
		v, err := q.Get(time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestPut_TimesOutWhenFull(t *testing.T) {
	q := queue.NewBoundedQueue[int](1)
	require.NoError(t, q.Put(1, time.Second))

	err := q.Put(2, 20*time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrQueueFull)
}

func TestTryPut_NonBlocking(t *testing.T) {
	q := queue.NewBoundedQueue[int](1)
	require.NoError(t, q.TryPut(1))
	assert.ErrorIs(t, q.TryPut(2), errs.ErrQueueFull)
}

func TestGet_TimesOutWhenEmpty(t *testing.T) {
	q := queue.NewBoundedQueue[int](1)
	_, err := q.Get(20 * time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrQueueEmpty)
}

func TestClose_DrainsThenReturnsClosed(t *testing.T) {
	q := queue.NewBoundedQueue[int](4)
	require.NoError(t, q.Put(1, time.Second))
	require.NoError(t, q.Put(2, time.Second))
	q.Close()

	v, err := q.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.Get(time.Second)
	assert.ErrorIs(t, err, errs.ErrQueueClosed)
}

func TestClose_Idempotent(t *testing.T) {
	q := queue.NewBoundedQueue[int](1)
	assert.NotPanics(t, func() {
		q.Close()
		q.Close()
	})
}

func TestPut_AfterCloseFails(t *testing.T) {
	q := queue.NewBoundedQueue[int](1)
	q.Close()
	assert.ErrorIs(t, q.Put(1, time.Second), errs.ErrQueueClosed)
	assert.ErrorIs(t, q.TryPut(1), errs.ErrQueueClosed)
}

// TestSize_NeverExceedsCapacity exercises concurrent producers/consumers and
// asserts the size invariant from spec section 8 item 4 holds throughout.
func TestSize_NeverExceedsCapacity(t *testing.T) {
	const capacity = 8
	q := queue.NewBoundedQueue[int](capacity)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	var mu sync.Mutex
	var maxObserved int

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				mu.Lock()
				if s := q.Size(); s > maxObserved {
					maxObserved = s
				}
				mu.Unlock()
			}
		}
	}()

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = q.Put(id*1000+i, 50*time.Millisecond)
			}
		}(p)
	}

	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = q.Get(50 * time.Millisecond)
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxObserved, capacity)
}
