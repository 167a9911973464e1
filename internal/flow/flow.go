package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dropcart/internal/config"
	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/offer"
	"github.com/roach88/dropcart/internal/purchase"
)

// Gate arms a confirmation for a request. The returned waiter blocks until
// the request is confirmed, the timeout expires (confirm.ErrTimeout) or ctx
// is done.
type Gate interface {
	Expect(requestID string) (*confirm.Waiter, error)
}

// Flow runs purchase requests against one automation session. A Flow holds
// no per-request state and may run many requests, one after the other.
type Flow struct {
	driver   driver.Driver
	loc      *locator.Map
	selector *offer.Selector
	cfg      config.Worker

	table    Table
	events   events.Publisher
	gate     Gate
	classify Classifier
	sleep    Sleeper
	now      func() time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithEvents publishes state changes and attempts to p.
func WithEvents(p events.Publisher) Option {
	return func(f *Flow) { f.events = p }
}

// WithGate sets the confirmation gate used when ConfirmFinalOrder is on.
func WithGate(g Gate) Option {
	return func(f *Flow) { f.gate = g }
}

// WithSleeper replaces the retry and fast-checkout delay.
func WithSleeper(s Sleeper) Option {
	return func(f *Flow) { f.sleep = s }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithClassifier replaces the error classifier.
func WithClassifier(c Classifier) Option {
	return func(f *Flow) { f.classify = c }
}

// WithTable replaces the transition table. It must pass Validate.
func WithTable(t Table) Option {
	return func(f *Flow) { f.table = t }
}

// New creates a Flow. cfg is copied and never modified.
func New(d driver.Driver, loc *locator.Map, selector *offer.Selector, cfg config.Worker, opts ...Option) *Flow {
	f := &Flow{
		driver:   d,
		loc:      loc,
		selector: selector,
		cfg:      cfg,
		table:    DefaultTable(),
		events:   events.Discard,
		classify: Classify,
		sleep:    Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Config returns the worker configuration the flow runs with.
func (f *Flow) Config() config.Worker {
	return f.cfg
}

// Run drives req to COMPLETED or FAILED. It never panics on page errors and
// never returns an error: every failure is described by the Outcome.
func (f *Flow) Run(ctx context.Context, req purchase.Request) purchase.Outcome {
	x := &execution{
		flow: f,
		req:  req,
		out: purchase.Outcome{
			RequestID: req.ID,
			StartedAt: f.now(),
		},
	}

	slog.Info("purchase flow started",
		"request_id", req.ID,
		"url", req.URL,
		"expected_price", priceString(req.ExpectedPrice),
		"dry_run", f.cfg.DryRun,
	)

	state := purchase.StateOpeningProduct
	x.enter(state)
	for !state.IsTerminal() {
		sig, err := x.run(ctx, state)

		next, terr := f.table.Next(state, sig)
		if terr != nil {
			err = &FatalError{Detail: "transition", Err: terr}
			sig = Abort
			next = purchase.StateFailed
		}
		x.settle(ctx, state, sig, err)
		state = next
		x.enter(state)
	}

	x.out.FinishedAt = f.now()
	slog.Info("purchase flow finished",
		"request_id", req.ID,
		"status", string(x.out.Status),
		"reason", x.out.Reason,
		"elapsed", x.out.Elapsed(),
	)
	return x.out
}

// execution is the state of one Run. It is owned by a single goroutine.
type execution struct {
	flow *Flow
	req  purchase.Request
	out  purchase.Outcome

	source *offer.PageSource

	// placed latches once the page shows the order went through.
	placed bool
}

func (x *execution) run(ctx context.Context, s purchase.State) (Signal, error) {
	switch s {
	case purchase.StateOpeningProduct:
		return x.openProduct(ctx)
	case purchase.StateResolvingOffer:
		return x.resolveOffer(ctx)
	case purchase.StateAddingToCart:
		return x.addToCart(ctx)
	case purchase.StateAwaitingCartConfirmation:
		return x.awaitCart(ctx)
	case purchase.StateProceedingToCheckout:
		return x.proceedToCheckout(ctx)
	case purchase.StateAwaitingOrderConfirmation:
		return x.awaitOrderConfirmation(ctx)
	case purchase.StatePlacingOrder:
		return x.placeOrder(ctx)
	default:
		return Abort, &FatalError{Detail: "no step for " + s.String()}
	}
}

func (x *execution) enter(s purchase.State) {
	x.out.States = append(x.out.States, s)
	x.flow.events.Publish(events.Event{
		Kind:      events.KindStateChange,
		RequestID: x.req.ID,
		State:     s.String(),
	})
	slog.Debug("state", "request_id", x.req.ID, "state", s.String())
}

// settle records the consequences of leaving s on sig.
func (x *execution) settle(ctx context.Context, s purchase.State, sig Signal, err error) {
	switch sig {
	case Advance, Bypass:
		if s == purchase.StatePlacingOrder {
			x.complete()
		}
	case Reject:
		x.out.Status = purchase.StatusFailed
		var re *RejectionError
		if errors.As(err, &re) {
			x.out.Reason = string(re.Decision.Reason)
			x.out.Message = re.Message
			if x.out.Message == "" {
				x.out.Message = purchase.DescribeRejection(re.Decision, x.req.ExpectedPrice)
			}
			if x.out.Decision == nil {
				d := re.Decision
				x.out.Decision = &d
			}
		} else {
			x.out.Reason = "rejected"
			x.out.Message = fmt.Sprintf("Rejected: %v", err)
		}
	case Timeout:
		x.out.Status = purchase.StatusFailed
		x.out.Reason = purchase.ReasonConfirmationTimeout
		x.out.Message = fmt.Sprintf("No confirmation received within %s; order not placed", x.flow.cfg.ConfirmationTimeout)
	case Exhausted:
		x.out.Status = purchase.StatusFailed
		x.out.Reason = purchase.ReasonRetriesExhausted(s)
		x.out.Message = fmt.Sprintf("Gave up in %s: %v", s, err)
		x.captureArtifact(ctx)
	case Abort:
		x.out.Status = purchase.StatusFailed
		x.out.Reason = purchase.ReasonFatal(fatalDetail(err))
		x.out.Message = fmt.Sprintf("Aborted in %s: %v", s, err)
		x.captureArtifact(ctx)
	}
}

func (x *execution) complete() {
	x.out.Status = purchase.StatusCompleted
	label := x.req.Label()
	if x.out.Simulated {
		x.out.Reason = purchase.ReasonDryRun
		x.out.Message = fmt.Sprintf("Dry run: would have ordered %s", label)
		return
	}
	x.out.Reason = purchase.ReasonOrderPlaced
	x.out.Message = fmt.Sprintf("Order placed for %s", label)
	if x.out.OrderRef != "" {
		x.out.Message += " (order " + x.out.OrderRef + ")"
	}
}

// captureArtifact saves a screenshot and an HTML snapshot for diagnosis.
// Nothing touches the page once an order was placed.
func (x *execution) captureArtifact(ctx context.Context) {
	if x.placed {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.flow.cfg.Timeouts.ElementVisible)
	defer cancel()

	if path, err := x.capture(ctx, driver.ArtifactScreenshot); err == nil {
		x.out.Artifact = path
		if n := len(x.out.Attempts); n > 0 {
			x.out.Attempts[n-1].Artifact = path
		}
	}
	if path, err := x.capture(ctx, driver.ArtifactHTML); err == nil {
		x.out.Snapshot = path
	}
}

func (x *execution) capture(ctx context.Context, kind string) (string, error) {
	path, err := x.flow.driver.CaptureArtifact(ctx, kind)
	if err != nil {
		slog.Warn("artifact capture failed", "request_id", x.req.ID, "kind", kind, "error", err)
	}
	return path, err
}

// record appends an attempt and publishes it.
func (x *execution) record(s purchase.State, number int, outcome purchase.AttemptOutcome, err error) {
	a := purchase.Attempt{
		State:   s,
		Number:  number,
		At:      x.flow.now(),
		Outcome: outcome,
	}
	if err != nil {
		a.Error = err.Error()
	}
	x.out.Attempts = append(x.out.Attempts, a)
	x.flow.events.Publish(events.Event{
		Kind:      events.KindAttempt,
		RequestID: x.req.ID,
		State:     s.String(),
		Attempt:   number,
		Outcome:   string(outcome),
		Detail:    a.Error,
	})
	if err != nil {
		slog.Debug("attempt failed",
			"request_id", x.req.ID,
			"state", s.String(),
			"attempt", number,
			"outcome", string(outcome),
			"error", err,
		)
	}
}

// retry runs action under the configured policy, logging every attempt
// against s, and turns the result into a Signal.
func (x *execution) retry(ctx context.Context, s purchase.State, action func(ctx context.Context, attempt int) error) (Signal, error) {
	policy := Policy{Attempts: x.flow.cfg.MaxRetries, Delay: x.flow.cfg.RetryDelay}
	observe := func(t Try) {
		x.record(s, t.Number, attemptOutcome(t), t.Err)
	}
	_, err := Retry(ctx, policy, x.flow.classify, x.flow.sleep, observe, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, action(ctx, attempt)
	})
	return x.signal(err), err
}

func (x *execution) signal(err error) Signal {
	switch {
	case err == nil:
		return Advance
	case IsExhausted(err):
		return Exhausted
	case errors.Is(err, confirm.ErrTimeout):
		return Timeout
	}
	switch x.flow.classify(err) {
	case Terminal:
		return Reject
	case Fatal:
		return Abort
	default:
		// A transient error outside Retry has no budget left.
		return Exhausted
	}
}

func attemptOutcome(t Try) purchase.AttemptOutcome {
	switch {
	case t.Err == nil:
		return purchase.AttemptOK
	case t.Retrying:
		return purchase.AttemptRetry
	case t.Class == Terminal:
		return purchase.AttemptRejected
	case t.Class == Fatal:
		return purchase.AttemptFatal
	default:
		return purchase.AttemptExhausted
	}
}

func fatalDetail(err error) string {
	var fe *FatalError
	switch {
	case errors.As(err, &fe):
		return fe.Detail
	case errors.Is(err, driver.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case err == nil:
		return "unknown"
	default:
		return err.Error()
	}
}

func priceString(p *decimal.Decimal) string {
	if p == nil {
		return ""
	}
	return p.String()
}
