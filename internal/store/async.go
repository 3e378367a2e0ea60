package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the number of records AsyncRecorder buffers.
const DefaultQueueSize = 256

// ErrQueueFull is returned when a record is dropped because the queue is full.
var ErrQueueFull = errors.New("record queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("recorder closed")

// AsyncRecorder writes records on a background goroutine so persistence never
// delays a decision. Write failures are logged and dropped.
type AsyncRecorder struct {
	next    Recorder
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

// NewAsyncRecorder starts the writer goroutine in front of next.
func NewAsyncRecorder(next Recorder, queueSize int, logger *zap.Logger) *AsyncRecorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncRecorder{
		next:    next,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan Record, queueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues r and returns its ID immediately.
func (a *AsyncRecorder) Record(_ context.Context, r Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return r.ID, ErrClosed
	}
	select {
	case a.queue <- r:
		return r.ID, nil
	default:
		a.logger.Warn("dropping inspection record, queue full", zap.String("id", r.ID))
		return r.ID, ErrQueueFull
	}
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for r := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if _, err := a.next.Record(ctx, r); err != nil {
			a.logger.Error("failed to persist inspection record", zap.String("id", r.ID), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting records and waits for queued ones to be written.
func (a *AsyncRecorder) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
