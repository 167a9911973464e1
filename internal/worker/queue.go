package worker

import (
	"errors"
	"sync"

	"github.com/roach88/dropcart/internal/purchase"
)

var (
	// ErrQueueFull is returned when the configured queue depth is reached.
	ErrQueueFull = errors.New("purchase queue is full")

	// ErrQueueClosed is returned after the worker stopped accepting work.
	ErrQueueClosed = errors.New("purchase queue is closed")
)

// requestQueue is a thread-safe FIFO queue of purchase requests.
//
// Producers (the control API, the channel monitor) enqueue from any
// goroutine while the worker's Run loop dequeues. The queue is unbounded
// unless maxDepth is set, in which case new requests are rejected.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type requestQueue struct {
	mu       sync.Mutex
	items    []purchase.Request
	maxDepth int
	closed   bool
	signal   chan struct{} // Signals request availability (buffered, size 1)
}

func newRequestQueue(maxDepth int) *requestQueue {
	return &requestQueue{
		items:    make([]purchase.Request, 0, 16),
		maxDepth: maxDepth,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
func (q *requestQueue) Enqueue(r purchase.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return ErrQueueFull
	}

	q.items = append(q.items, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue removes the front request without blocking.
func (q *requestQueue) TryDequeue() (purchase.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return purchase.Request{}, false
	}

	r := q.items[0]
	// Drop the reference so the backing array does not pin old requests.
	q.items[0] = purchase.Request{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// Wait returns a channel that signals when requests may be available.
// It is closed by Close.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued requests in order.
func (q *requestQueue) Snapshot() []purchase.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]purchase.Request, len(q.items))
	copy(out, q.items)
	return out
}

// Closed reports whether Close was called.
func (q *requestQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting requests and wakes any waiter. Queued requests can
// still be dequeued.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
