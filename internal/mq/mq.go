package mq

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Queue is a bounded notification queue shared between background producers
// and a single consumer. Push never blocks: once capacity is reached the
// oldest notification is discarded. Drain returns the most recent capacity
// notifications without consuming them, so a log view can be re-rendered
// from the same window on every refresh.
type Queue struct {
	name     string
	capacity int
	pending  chan string
	dirty    atomic.Bool
	dropped  atomic.Uint64
	logger   *zap.Logger

	mu     sync.Mutex
	window []string
}

type QueueOption func(*Queue)

func WithLogger(logger *zap.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

func WithName(name string) QueueOption {
	return func(q *Queue) {
		q.name = name
	}
}

func New(capacity int, opts ...QueueOption) *Queue {
	if capacity <= 0 {
		capacity = 1
	}

	q := &Queue{
		capacity: capacity,
		pending:  make(chan string, capacity),
		window:   make([]string, 0, capacity),
	}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Push enqueues item and marks the queue dirty.
func (q *Queue) Push(item string) {
	for {
		select {
		case q.pending <- item:
			q.dirty.Store(true)
			if q.logger != nil {
				q.logger.Debug("notification", zap.String("queue", q.name), zap.String("item", item))
			}
			return
		default:
		}

		// full: drop the oldest pending item and retry the send
		select {
		case <-q.pending:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pushf is a convenience for formatted notifications.
func (q *Queue) Pushf(format string, args ...any) {
	q.Push(sprintf(format, args...))
}

// Drain moves everything pushed so far into the window and returns a copy of
// it, oldest first. When resetDirty is set the dirty flag is cleared before
// collecting, so a push racing with the drain leaves the queue dirty.
func (q *Queue) Drain(resetDirty bool) []string {
	if resetDirty {
		q.dirty.Store(false)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.collectLocked()
}

// Flush drains and clears in one step: everything pushed so far is returned
// exactly once and the window is left empty.
func (q *Queue) Flush() []string {
	q.dirty.Store(false)

	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.collectLocked()
	q.window = q.window[:0]
	return out
}

func (q *Queue) collectLocked() []string {
	for {
		select {
		case item := <-q.pending:
			q.window = append(q.window, item)
			continue
		default:
		}
		break
	}

	if over := len(q.window) - q.capacity; over > 0 {
		q.dropped.Add(uint64(over))
		q.window = append(q.window[:0], q.window[over:]...)
	}

	out := make([]string, len(q.window))
	copy(out, q.window)
	return out
}

// Clear forgets the window and anything still pending.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case <-q.pending:
			continue
		default:
		}
		break
	}
	q.window = q.window[:0]
	q.dirty.Store(false)
}

func (q *Queue) IsDirty() bool {
	return q.dirty.Load()
}

// Len reports how many notifications a drain would return right now.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.window) + len(q.pending)
	if n > q.capacity {
		return q.capacity
	}
	return n
}

func (q *Queue) Capacity() int {
	return q.capacity
}

// Dropped counts notifications evicted to make room for newer ones.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue) Name() string {
	return q.name
}
