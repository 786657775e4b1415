package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dreamlines/book"
	"dreamlines/logging"
)

// DefaultChannelCapacity is the default buffer size for queued writes.
const DefaultChannelCapacity = 100

// DefaultDrainTimeout bounds how long Close waits for queued writes.
const DefaultDrainTimeout = 10 * time.Second

// AsyncRecorder queues run records and writes them on a background
// goroutine so a finishing run never waits on the disk.
//
// This molecule composes:
// - a buffered channel (atom)
// - a Recorder doing the actual write
// - drain on Close
type AsyncRecorder struct {
	next    book.Recorder
	logger  *logging.Logger
	queue   chan book.Run
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

var _ book.Recorder = (*AsyncRecorder)(nil)

// NewAsyncRecorder wraps next. capacity <= 0 uses DefaultChannelCapacity.
func NewAsyncRecorder(next book.Recorder, capacity int, logger *logging.Logger) *AsyncRecorder {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AsyncRecorder{
		next:   next,
		logger: logger.Named("history"),
		queue:  make(chan book.Run, capacity),
	}
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (a *AsyncRecorder) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started || a.closed {
		return
	}
	a.started = true
	a.wg.Add(1)
	go a.process()
}

func (a *AsyncRecorder) process() {
	defer a.wg.Done()
	for run := range a.queue {
		if err := a.next.RecordRun(context.Background(), run); err != nil {
			a.logger.Warn("Failed to write run record",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}
}

// RecordRun queues run without blocking. When the queue is full, or the
// writer is not running, the write happens inline.
func (a *AsyncRecorder) RecordRun(ctx context.Context, run book.Run) error {
	a.mu.Lock()
	if a.started && !a.closed {
		select {
		case a.queue <- run:
			a.mu.Unlock()
			return nil
		default:
		}
	}
	a.mu.Unlock()

	return a.next.RecordRun(ctx, run)
}

// Pending returns the number of queued records.
func (a *AsyncRecorder) Pending() int {
	return len(a.queue)
}

// Close stops accepting records and waits for the queue to drain or for
// ctx to end. It reports whether the drain completed.
func (a *AsyncRecorder) Close(ctx context.Context) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return true
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		a.logger.Warn("Run history drain timed out", zap.Int("pending", a.Pending()))
		return false
	}
}
