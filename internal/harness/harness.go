package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/dropcart/internal/config"
	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/flow"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/offer"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
	"github.com/roach88/dropcart/internal/storefront"
	"github.com/roach88/dropcart/internal/testutil"
)

// Confirmation timeouts used by the harness gate.
const (
	deliverTimeout  = 5 * time.Second
	withholdTimeout = 10 * time.Millisecond
)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a freshly built storefront and a fresh
// in-memory activity store. An error is returned only when the scenario
// cannot be set up; a flow that ends differently than expected is a
// failing Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	loc := locator.Default()
	if scenario.Locators != "" {
		var err error
		loc, err = locator.LoadFile(scenario.Locators)
		if err != nil {
			return nil, fmt.Errorf("failed to load locators: %w", err)
		}
	}

	shop, err := storefront.Build(scenario.Product, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to build storefront: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	in, err := scenario.Inbound()
	if err != nil {
		return nil, err
	}
	req, err := purchase.NewRequest(in, testutil.FixedID(scenario.RequestID), testutil.Epoch)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	bus := events.NewBus(
		events.WithSequencer(testutil.NewDeterministicClock()),
		events.WithNow(func() time.Time { return testutil.Epoch }),
		events.WithHistory(10000),
	)
	gate := confirm.NewRegistry()
	sleeper := &testutil.Sleeper{}
	wall := testutil.NewStepClock(testutil.Epoch, time.Second)

	var publisher events.Publisher = bus
	if scenario.Confirmation == ConfirmDeliver {
		publisher = confirmOnRequest(bus, gate)
	}

	f := flow.New(shop.Page, loc, offer.NewSelector(offer.DefaultPolicy()), scenario.workerConfig(),
		flow.WithEvents(publisher),
		flow.WithGate(gate),
		flow.WithSleeper(sleeper.Sleep),
		flow.WithClock(wall.Now),
	)

	out := f.Run(ctx, req)

	result := NewResult()
	for _, ev := range bus.History(0) {
		result.AddEvent(ev)
	}
	result.Outcome = out
	result.Calls = shop.Page.Calls()
	result.Orders = shop.Orders()

	// The outcome is recorded even when ctx ended the flow.
	rctx := context.WithoutCancel(ctx)
	if err := st.Record(rctx, req, out); err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}
	activity, err := st.Get(rctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}
	result.Activity = &activity

	for _, msg := range checkExpectations(scenario.Expect, result) {
		result.AddError(msg)
	}

	actx := &AssertionContext{Locators: loc}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// workerConfig applies the scenario's overrides to the defaults.
func (s *Scenario) workerConfig() config.Worker {
	cfg := config.DefaultWorker()
	o := s.Config
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.FastCheckout != nil {
		cfg.FastCheckout = *o.FastCheckout
	}
	if o.ConfirmFinalOrder != nil {
		cfg.ConfirmFinalOrder = *o.ConfirmFinalOrder
	}
	if o.DryRun != nil {
		cfg.DryRun = *o.DryRun
	}
	cfg.ConfirmationTimeout = deliverTimeout
	if s.Confirmation != ConfirmDeliver {
		cfg.ConfirmationTimeout = withholdTimeout
	}
	return cfg
}

// confirmOnRequest publishes to bus and confirms each request as soon as
// the flow asks for it.
func confirmOnRequest(bus *events.Bus, gate *confirm.Registry) events.Publisher {
	return events.PublisherFunc(func(ev events.Event) {
		bus.Publish(ev)
		if ev.Kind == events.KindConfirmationRequired {
			_ = gate.Deliver(ev.RequestID)
		}
	})
}

func checkExpectations(want Expectation, r *Result) []string {
	var errs []string
	out := r.Outcome
	mismatch := func(field string, expected, actual any) {
		errs = append(errs, fmt.Sprintf("expect.%s: expected %v, got %v", field, expected, actual))
	}

	if string(out.Status) != want.Status {
		mismatch("status", want.Status, out.Status)
	}
	if want.Reason != "" && out.Reason != want.Reason {
		mismatch("reason", want.Reason, out.Reason)
	}
	if want.Message != "" && out.Message != want.Message {
		mismatch("message", want.Message, out.Message)
	}
	if len(want.States) > 0 {
		got := stateNames(out.States)
		if strings.Join(got, ",") != strings.Join(want.States, ",") {
			mismatch("states", want.States, got)
		}
	}
	if want.Orders != nil && r.Orders != *want.Orders {
		mismatch("orders", *want.Orders, r.Orders)
	}
	if want.Simulated != nil && out.Simulated != *want.Simulated {
		mismatch("simulated", *want.Simulated, out.Simulated)
	}
	if want.OrderRef != "" && out.OrderRef != want.OrderRef {
		mismatch("order_ref", want.OrderRef, out.OrderRef)
	}
	if want.Artifact != nil && (out.Artifact != "") != *want.Artifact {
		mismatch("artifact", *want.Artifact, out.Artifact != "")
	}
	return errs
}

func stateNames(states []purchase.State) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return names
}
