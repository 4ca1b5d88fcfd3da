// Package metrics implements the pipeline's Monitor: thread-safe counters
// and rolling FPS estimates, read through Snapshot (e.g. by a display
// overlay via Pipeline.Monitor). Counters never block the hot path - they are plain
// atomics, and the rolling-FPS window is a small mutex-guarded ring buffer
// rather than anything synchronous with the event bus.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hbomb79/framepipe/internal/pipeline/event"
	"github.com/hbomb79/framepipe/pkg/logger"
)

var log = logger.Get("Monitor")

const (
	defaultWindowSize = 50
	minSamples        = 3
	minSpan           = 100 * time.Millisecond
	defaultLogEvery   = 10
)

// Snapshot is a point-in-time read of every counter, safe to copy and pass
// around (e.g. to a display overlay).
type Snapshot struct {
	Produced       int64
	Accepted       int64
	DroppedInput   int64
	DroppedLoad    int64
	ProcessedOK    int64
	ProcessedError int64
	Displayed      int64
	ProducedFPS    float64
	DisplayedFPS   float64
}

// window is a fixed-capacity ring buffer of recent event timestamps used to
// compute a rolling FPS: (n-1) / (t_last - t_first).
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	next   int
	filled int
	size   int
}

func newWindow(size int) *window {
	if size < minSamples {
		size = defaultWindowSize
	}
	return &window{stamps: make([]time.Time, size), size: size}
}

func (w *window) observe(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps[w.next] = t
	w.next = (w.next + 1) % w.size
	if w.filled < w.size {
		w.filled++
	}
}

// fps returns the rolling frames-per-second estimate, or 0 if fewer than
// minSamples samples have been observed or the observed span is too small
// to divide by (spec 4.5: "span > 0.1s else undefined").
func (w *window) fps() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled < minSamples {
		return 0
	}

	// Oldest sample in the ring is at `next` when the buffer has wrapped,
	// otherwise it's at index 0.
	oldestIdx := 0
	if w.filled == w.size {
		oldestIdx = w.next
	}
	newestIdx := (w.next - 1 + w.size) % w.size

	first := w.stamps[oldestIdx]
	last := w.stamps[newestIdx]
	span := last.Sub(first)
	if span <= minSpan {
		return 0
	}

	return float64(w.filled-1) / span.Seconds()
}

// Monitor is the pipeline's concurrent-safe counters + rolling FPS monitor.
// It subscribes to an event.Bus so producers/workers/consumers don't need a
// direct reference to it.
type Monitor struct {
	bus event.Bus

	produced       atomic.Int64
	accepted       atomic.Int64
	droppedInput   atomic.Int64
	droppedLoad    atomic.Int64
	processedOK    atomic.Int64
	processedError atomic.Int64
	displayed      atomic.Int64

	producedWindow  *window
	displayedWindow *window

	logEvery    int64
	eventsSince atomic.Int64
}

// New builds a Monitor subscribed to bus. logEvery controls the periodic
// aggregate-log cadence: one aggregate line every logEvery events, counted
// across all event streams together, not per stream. Pass 0 to use the
// default of 10.
func New(bus event.Bus, logEvery int) *Monitor {
	if logEvery <= 0 {
		logEvery = defaultLogEvery
	}

	m := &Monitor{
		bus:             bus,
		producedWindow:  newWindow(defaultWindowSize),
		displayedWindow: newWindow(defaultWindowSize),
		logEvery:        int64(logEvery),
	}

	bus.RegisterHandlerFunction(event.FrameEmitted, func(event.Event, event.Payload) {
		m.produced.Add(1)
		m.producedWindow.observe(time.Now())
		m.tick()
	})
	bus.RegisterHandlerFunction(event.FrameAccepted, func(event.Event, event.Payload) {
		m.accepted.Add(1)
		m.tick()
	})
	bus.RegisterHandlerFunction(event.FrameDroppedInput, func(event.Event, event.Payload) {
		m.droppedInput.Add(1)
		m.tick()
	})
	bus.RegisterHandlerFunction(event.FrameDroppedLoad, func(event.Event, event.Payload) {
		m.droppedLoad.Add(1)
		m.tick()
	})
	bus.RegisterHandlerFunction(event.FrameProcessed, func(_ event.Event, payload event.Payload) {
		m.processedOK.Add(1)
		m.tick()
	})
	bus.RegisterHandlerFunction(event.FrameDisplayed, func(event.Event, event.Payload) {
		m.displayed.Add(1)
		m.displayedWindow.observe(time.Now())
		m.tick()
	})
	bus.RegisterHandlerFunction(event.DrainTimeout, func(event.Event, event.Payload) {
		log.Emit(logger.WARNING, "drain timeout exceeded - forcing shutdown\n")
	})

	return m
}

// CountProcessedError records a per-frame inference failure or timeout.
// It is a direct method rather than a bus event; the WorkerPool calls it
// once for every errored or timed-out Result.
func (m *Monitor) CountProcessedError() {
	m.processedError.Add(1)
	m.tick()
}

func (m *Monitor) tick() {
	if m.eventsSince.Add(1)%m.logEvery == 0 {
		s := m.Snapshot()
		log.Emit(logger.INFO, "produced=%d accepted=%d dropped=%d processed_ok=%d processed_err=%d displayed=%d fps(in)=%.1f fps(out)=%.1f\n",
			s.Produced, s.Accepted, s.DroppedInput+s.DroppedLoad, s.ProcessedOK, s.ProcessedError, s.Displayed, s.ProducedFPS, s.DisplayedFPS)
	}
}

// Snapshot returns a consistent-enough read of every counter for overlay
// rendering or pacing feedback. Individual fields may be read a few
// nanoseconds apart from one another under concurrent mutation - callers
// needing a single atomic snapshot should treat this as advisory, per the
// BoundedQueue.Size() convention.
func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Produced:       m.produced.Load(),
		Accepted:       m.accepted.Load(),
		DroppedInput:   m.droppedInput.Load(),
		DroppedLoad:    m.droppedLoad.Load(),
		ProcessedOK:    m.processedOK.Load(),
		ProcessedError: m.processedError.Load(),
		Displayed:      m.displayed.Load(),
		ProducedFPS:    m.producedWindow.fps(),
		DisplayedFPS:   m.displayedWindow.fps(),
	}
}
