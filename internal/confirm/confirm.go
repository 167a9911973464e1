// Package confirm implements the human confirmation gate: a single-use
// signal per request id, awaited with a timeout.
package confirm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Await when no confirmation arrived in time.
	ErrTimeout = errors.New("confirmation timed out")

	// ErrNotPending is returned by Deliver when nothing awaits the id.
	ErrNotPending = errors.New("no confirmation pending for request")

	// ErrAlreadyPending is returned by Expect when the id is already armed.
	ErrAlreadyPending = errors.New("confirmation already pending for request")
)

// Registry tracks pending confirmations. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]chan struct{})}
}

// Waiter is one armed confirmation. It is used once: Wait or Cancel
// disarms it.
type Waiter struct {
	r  *Registry
	id string
	ch chan struct{}
}

// Expect arms a signal for id. From this point on Deliver(id) is accepted,
// even before the caller starts waiting, so the request can be announced
// only after Expect returns.
func (r *Registry) Expect(id string) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return nil, ErrAlreadyPending
	}
	ch := make(chan struct{})
	r.pending[id] = ch
	return &Waiter{r: r, id: id, ch: ch}, nil
}

// Wait blocks until the signal fires, the timeout or ctx cancellation. The
// signal is disarmed on return, so a late Deliver reports ErrNotPending. A
// signal delivered before Wait is called is not lost.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) error {
	defer w.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel disarms the signal if it is still armed.
func (w *Waiter) Cancel() {
	w.r.disarm(w.id, w.ch)
}

// Await is Expect followed by Wait.
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) error {
	w, err := r.Expect(id)
	if err != nil {
		return err
	}
	return w.Wait(ctx, timeout)
}

// Deliver fires the signal for id. Each armed signal fires at most once.
func (r *Registry) Deliver(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.pending[id]
	if !ok {
		return ErrNotPending
	}
	delete(r.pending, id)
	close(ch)
	return nil
}

// Pending returns the ids currently awaiting confirmation, sorted.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// disarm removes ch if it is still the armed signal for id. Deliver may
// have removed it already.
func (r *Registry) disarm(id string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[id]; ok && cur == ch {
		delete(r.pending, id)
	}
}
