// Package worker serializes purchase requests onto the single automation
// session.
//
// One Run loop drains a FIFO queue strictly one request at a time. Pause
// stops dequeuing once the in-flight request finishes; Resume re-enables
// it. Nothing aborts a flow midway except process shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/session"
)

// Runner executes one request to a terminal outcome. *flow.Flow is the
// production Runner.
type Runner interface {
	Run(ctx context.Context, req purchase.Request) purchase.Outcome
}

// Recorder persists finished requests. *store.Store is the production
// Recorder.
type Recorder interface {
	Record(ctx context.Context, req purchase.Request, out purchase.Outcome) error
}

// Confirmer releases confirmation gates. *confirm.Registry is the
// production Confirmer.
type Confirmer interface {
	Deliver(requestID string) error
	Pending() []string
}

// resetTimeout bounds the tab reset after each request.
const resetTimeout = 10 * time.Second

// Worker is the single-flight consumer of purchase requests.
type Worker struct {
	runner    Runner
	queue     *requestQueue
	events    events.Publisher
	recorder  Recorder
	confirmer Confirmer
	lease     session.Lease
	resetter  driver.Resetter
	ids       purchase.IDGenerator
	now       func() time.Time
	maxDepth  int

	resumed chan struct{}
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	paused    bool
	current   *Current
	last      *Summary
	startedAt time.Time
	completed int
	failed    int
}

// Option configures a Worker.
type Option func(*Worker)

// WithEvents publishes lifecycle events to p.
func WithEvents(p events.Publisher) Option {
	return func(w *Worker) { w.events = p }
}

// WithRecorder persists every finished request.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

// WithConfirmer routes Confirm to c.
func WithConfirmer(c Confirmer) Option {
	return func(w *Worker) { w.confirmer = c }
}

// WithLease holds l for the duration of every request.
func WithLease(l session.Lease) Option {
	return func(w *Worker) { w.lease = l }
}

// WithResetter resets the browser tab after every request.
func WithResetter(r driver.Resetter) Option {
	return func(w *Worker) { w.resetter = r }
}

// WithIDs sets the request id generator used by Trigger.
func WithIDs(ids purchase.IDGenerator) Option {
	return func(w *Worker) { w.ids = ids }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithMaxQueueDepth rejects new requests with ErrQueueFull once n are
// waiting. Zero means unbounded.
func WithMaxQueueDepth(n int) Option {
	return func(w *Worker) { w.maxDepth = n }
}

// New creates a worker around runner.
func New(runner Runner, opts ...Option) *Worker {
	w := &Worker{
		runner:  runner,
		events:  events.Discard,
		ids:     purchase.UUIDv7Generator{},
		now:     time.Now,
		resumed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = newRequestQueue(w.maxDepth)
	w.startedAt = w.now()
	return w
}

// Trigger validates in, enqueues it and returns the queued request.
func (w *Worker) Trigger(in purchase.Inbound) (purchase.Request, error) {
	req, err := purchase.NewRequest(in, w.ids, w.now())
	if err != nil {
		return purchase.Request{}, err
	}
	if err := w.Submit(req); err != nil {
		return purchase.Request{}, err
	}
	return req, nil
}

// Submit enqueues an already built request.
func (w *Worker) Submit(req purchase.Request) error {
	if err := w.queue.Enqueue(req); err != nil {
		slog.Warn("request not queued", "request_id", req.ID, "url", req.URL, "error", err)
		return err
	}
	depth := w.queue.Len()
	w.events.Publish(events.Event{
		Kind:      events.KindRequestQueued,
		RequestID: req.ID,
		Detail:    req.Label(),
	})
	slog.Info("request queued", "request_id", req.ID, "url", req.URL, "queue_depth", depth)
	return nil
}

// Pause stops dequeuing after the in-flight request. It reports whether
// the worker was running before.
func (w *Worker) Pause() bool {
	w.mu.Lock()
	changed := !w.paused
	w.paused = true
	w.mu.Unlock()

	if changed {
		w.events.Publish(events.Event{Kind: events.KindWorkerPaused})
		slog.Info("worker paused", "queue_depth", w.queue.Len())
	}
	return changed
}

// Resume re-enables dequeuing. It reports whether the worker was paused.
func (w *Worker) Resume() bool {
	w.mu.Lock()
	changed := w.paused
	w.paused = false
	w.mu.Unlock()

	if changed {
		select {
		case w.resumed <- struct{}{}:
		default:
		}
		w.events.Publish(events.Event{Kind: events.KindWorkerResumed})
		slog.Info("worker resumed", "queue_depth", w.queue.Len())
	}
	return changed
}

// Confirm releases the confirmation gate of requestID.
func (w *Worker) Confirm(requestID string) error {
	if w.confirmer == nil {
		return fmt.Errorf("%w: %s", confirm.ErrNotPending, requestID)
	}
	if err := w.confirmer.Deliver(requestID); err != nil {
		return fmt.Errorf("%w: %s", err, requestID)
	}
	slog.Info("order confirmed", "request_id", requestID)
	return nil
}

// Close stops accepting requests. Run returns once the queue is drained,
// or at once if paused.
func (w *Worker) Close() {
	w.once.Do(func() {
		w.queue.Close()
		close(w.done)
	})
}

// Run consumes requests until ctx is done or the worker is closed and
// drained. It returns ctx.Err() on cancellation and nil after Close.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "max_queue_depth", w.maxDepth)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.waitWhilePaused(ctx); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}

		req, ok := w.queue.TryDequeue()
		if !ok {
			if w.queue.Closed() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.queue.Wait():
			}
			continue
		}

		w.process(ctx, req)
	}
}

func (w *Worker) waitWhilePaused(ctx context.Context) error {
	for w.isPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return ErrQueueClosed
		case <-w.resumed:
		}
	}
	return nil
}

func (w *Worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// process runs one request. Failures stay inside the request; nothing here
// stops the loop.
func (w *Worker) process(ctx context.Context, req purchase.Request) {
	started := w.now()
	w.setCurrent(&Current{
		RequestID: req.ID,
		URL:       req.URL,
		Product:   req.ProductLabel,
		StartedAt: started,
	})
	w.events.Publish(events.Event{
		Kind:      events.KindRequestStarted,
		RequestID: req.ID,
		Detail:    req.Label(),
	})

	out := w.execute(ctx, req, started)

	if w.recorder != nil {
		rctx := context.WithoutCancel(ctx)
		if err := w.recorder.Record(rctx, req, out); err != nil {
			slog.Error("activity record failed", "request_id", req.ID, "error", err)
			w.events.Publish(events.Event{
				Kind:      events.KindWorkerError,
				RequestID: req.ID,
				Detail:    "record: " + err.Error(),
			})
		}
	}

	w.events.Publish(events.Event{
		Kind:      events.KindRequestFinished,
		RequestID: req.ID,
		State:     out.LastState().String(),
		Outcome:   string(out.Status),
		Detail:    out.Reason,
		Artifact:  out.Artifact,
	})
	w.finish(out)
}

func (w *Worker) execute(ctx context.Context, req purchase.Request, started time.Time) purchase.Outcome {
	if w.lease != nil {
		release, err := w.lease.Acquire(ctx)
		if err != nil {
			slog.Error("session lease not acquired", "request_id", req.ID, "error", err)
			w.events.Publish(events.Event{
				Kind:      events.KindWorkerError,
				RequestID: req.ID,
				Detail:    "lease: " + err.Error(),
			})
			return purchase.Outcome{
				RequestID:  req.ID,
				Status:     purchase.StatusFailed,
				Reason:     purchase.ReasonFatal("session_unavailable"),
				Message:    fmt.Sprintf("Browser session unavailable: %v", err),
				States:     []purchase.State{purchase.StateFailed},
				StartedAt:  started,
				FinishedAt: w.now(),
			}
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("session lease release failed", "request_id", req.ID, "error", err)
			}
		}()
	}

	out := w.runner.Run(ctx, req)
	w.reset(ctx, req.ID)
	return out
}

func (w *Worker) reset(ctx context.Context, requestID string) {
	if w.resetter == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
	defer cancel()
	if err := w.resetter.Reset(rctx); err != nil {
		slog.Warn("browser reset failed", "request_id", requestID, "error", err)
	}
}

func (w *Worker) setCurrent(c *Current) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = c
}

func (w *Worker) finish(out purchase.Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = nil
	if out.Succeeded() {
		w.completed++
	} else {
		w.failed++
	}
	w.last = &Summary{
		RequestID:  out.RequestID,
		Status:     out.Status,
		Reason:     out.Reason,
		Message:    out.Message,
		Simulated:  out.Simulated,
		FinishedAt: out.FinishedAt,
	}
}
