package flow

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcart/internal/config"
	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/driver/drivertest"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/offer"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/storefront"
	"github.com/roach88/dropcart/internal/testutil"
)

type fixture struct {
	store   *storefront.Store
	loc     *locator.Map
	flow    *Flow
	bus     *events.Bus
	gate    *confirm.Registry
	sleeper *testutil.Sleeper
}

func testConfig() config.Worker {
	cfg := config.DefaultWorker()
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.ConfirmationTimeout = 20 * time.Millisecond
	return cfg
}

func newFixture(t *testing.T, p storefront.Product, cfg config.Worker) *fixture {
	t.Helper()
	loc := locator.Default()
	store, err := storefront.Build(p, loc)
	require.NoError(t, err)

	fx := &fixture{
		store:   store,
		loc:     loc,
		bus:     events.NewBus(events.WithSequencer(testutil.NewDeterministicClock())),
		gate:    confirm.NewRegistry(),
		sleeper: &testutil.Sleeper{},
	}
	fx.flow = New(store.Page, loc, offer.NewSelector(offer.DefaultPolicy()), cfg,
		WithEvents(fx.bus),
		WithGate(fx.gate),
		WithSleeper(fx.sleeper.Sleep),
		WithClock(testutil.NewStepClock(testutil.Epoch, time.Second).Now),
	)
	return fx
}

func newRequest(t *testing.T, url, price string) purchase.Request {
	t.Helper()
	in := purchase.Inbound{URL: url, Product: "Test Item"}
	if price != "" {
		d := decimal.RequireFromString(price)
		in.Price = &d
	}
	req, err := purchase.NewRequest(in, testutil.FixedID("req-1"), testutil.Epoch)
	require.NoError(t, err)
	return req
}

func amazon(price string) storefront.Offer {
	return storefront.Offer{Price: price, ShipsFrom: "Amazon.com", SoldBy: "Amazon.com"}
}

func thirdParty(price string) storefront.Offer {
	return storefront.Offer{Price: price, ShipsFrom: "Gadget Hub", SoldBy: "Gadget Hub"}
}

func fullPath() []purchase.State {
	return []purchase.State{
		purchase.StateOpeningProduct,
		purchase.StateResolvingOffer,
		purchase.StateAddingToCart,
		purchase.StateAwaitingCartConfirmation,
		purchase.StateProceedingToCheckout,
		purchase.StatePlacingOrder,
		purchase.StateCompleted,
	}
}

func attemptsIn(out purchase.Outcome, s purchase.State) []purchase.AttemptOutcome {
	var got []purchase.AttemptOutcome
	for _, a := range out.Attempts {
		if a.State == s {
			got = append(got, a.Outcome)
		}
	}
	return got
}

func TestRun_ScenarioA_PinnedValid(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, purchase.ReasonOrderPlaced, out.Reason)
	require.NotNil(t, out.Decision)
	assert.Equal(t, purchase.ReasonPinnedValid, out.Decision.Reason)
	assert.Equal(t, 0, out.Decision.Inspected)
	assert.Equal(t, fullPath(), out.States)
	assert.Equal(t, "111-0000000-0000000", out.OrderRef)
	assert.Equal(t, 1, fx.store.Orders())
	require.Len(t, fx.store.Cart(), 1)
	assert.Equal(t, "$29.74", fx.store.Cart()[0].Price)
	assert.False(t, out.Simulated)
	assert.Equal(t, "req-1", out.RequestID)
	assert.Positive(t, out.Elapsed())
}

func TestRun_ScenarioB_ListMatch(t *testing.T) {
	pinned := amazon("$165.00")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &pinned,
		Offers: []storefront.Offer{
			thirdParty("$150.00"),
			amazon("$159.99"),
			amazon("$170.00"),
		},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "160.06"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	require.NotNil(t, out.Decision)
	assert.Equal(t, purchase.ReasonListMatch, out.Decision.Reason)
	assert.Equal(t, 2, out.Decision.Inspected)
	require.Len(t, fx.store.Cart(), 1)
	assert.Equal(t, "$159.99", fx.store.Cart()[0].Price)
}

func TestRun_ScenarioC_CertifiedResale(t *testing.T) {
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Offers: []storefront.Offer{
			{Price: "$88.10", ShipsFrom: "Amazon.com", SoldBy: "Amazon Resale"},
		},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "90.00"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, purchase.ReasonListMatch, out.Decision.Reason)
	assert.Equal(t, "Amazon Resale", fx.store.Cart()[0].SoldBy)
}

func TestRun_ScenarioD_PriceExceeded(t *testing.T) {
	pinned := thirdParty("$35.00")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &pinned,
		Offers: []storefront.Offer{amazon("$35.00"), amazon("$36.00")},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, string(purchase.ReasonPriceExceeded), out.Reason)
	assert.Equal(t, "Rejected: listed price is above the expected $29.74", out.Message)
	assert.Equal(t, 1, out.Decision.Inspected)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptRejected}, attemptsIn(out, purchase.StateResolvingOffer))
	assert.Equal(t, purchase.StateFailed, out.LastState())
	assert.Empty(t, fx.store.Cart())
	assert.Empty(t, out.Artifact)
}

func TestRun_ScenarioE_InvalidShipper(t *testing.T) {
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Offers: []storefront.Offer{thirdParty("$10.00")},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, string(purchase.ReasonInvalidShipper), out.Reason)
	assert.Equal(t, 1, out.Decision.Inspected)
	assert.Empty(t, fx.store.Cart())
}

func TestRun_NoExpectedPriceAcceptsAnyPrice(t *testing.T) {
	p := amazon("$9999.99")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, ""))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, purchase.ReasonPinnedValid, out.Decision.Reason)
}

func TestRun_BuyboxLayout(t *testing.T) {
	fx := newFixture(t, storefront.Product{
		Layout:   storefront.LayoutBuybox,
		Pinned:   &storefront.Offer{Price: "$19.99"},
		Merchant: "Ships from and sold by Amazon.com.",
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "19.99"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, purchase.ReasonPinnedValid, out.Decision.Reason)
	assert.Equal(t, 1, fx.store.Orders())
}

func TestRun_BuyboxInvalidSellerIsTerminal(t *testing.T) {
	fx := newFixture(t, storefront.Product{
		Layout:   storefront.LayoutBuybox,
		Pinned:   &storefront.Offer{Price: "$19.99"},
		Merchant: "Ships from and sold by Gadget Hub.",
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "19.99"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, string(purchase.ReasonInvalidShipper), out.Reason)
	assert.Len(t, out.Attempts, 2)
}

func TestRun_UnavailableProduct(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p, Unavailable: true}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, string(purchase.ReasonNoOffers), out.Reason)
	assert.Equal(t, "Rejected: product is currently unavailable", out.Message)
}

func TestRun_FastCheckoutSkipsCartConfirmation(t *testing.T) {
	cfg := testConfig()
	cfg.FastCheckout = true
	cfg.FastCheckoutDelay = 2 * time.Second
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, cfg)

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.NotContains(t, out.States, purchase.StateAwaitingCartConfirmation)
	assert.Equal(t, []purchase.State{
		purchase.StateOpeningProduct,
		purchase.StateResolvingOffer,
		purchase.StateAddingToCart,
		purchase.StateProceedingToCheckout,
		purchase.StatePlacingOrder,
		purchase.StateCompleted,
	}, out.States)
	assert.Equal(t, []time.Duration{2 * time.Second}, fx.sleeper.Delays())
	assert.Equal(t, 1, fx.store.Page.Count(drivertest.OpNavigate, cfg.CheckoutEntryURL))
}

func TestRun_ConfirmationTimeoutNeverPlacesOrder(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmFinalOrder = true
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, cfg)

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, purchase.ReasonConfirmationTimeout, out.Reason)
	assert.NotContains(t, out.States, purchase.StatePlacingOrder)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptTimeout},
		attemptsIn(out, purchase.StateAwaitingOrderConfirmation))
	assert.Equal(t, 0, fx.store.Orders())
	assert.Empty(t, fx.gate.Pending())
}

func TestRun_ConfirmationDelivered(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmFinalOrder = true
	cfg.ConfirmationTimeout = 5 * time.Second
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, cfg)
	req := newRequest(t, storefront.DefaultProductURL, "29.74")

	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if fx.gate.Deliver(req.ID) == nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	out := fx.flow.Run(context.Background(), req)
	<-done

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Contains(t, out.States, purchase.StateAwaitingOrderConfirmation)
	assert.Equal(t, 1, fx.store.Orders())

	var kinds []events.Kind
	for _, ev := range fx.bus.History(0) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.KindConfirmationRequired)
	assert.Contains(t, kinds, events.KindOrderPlaced)
}

func TestRun_ConfirmationOnAnnouncement(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmFinalOrder = true
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, cfg)

	var deliverErr error
	confirmer := events.PublisherFunc(func(ev events.Event) {
		fx.bus.Publish(ev)
		if ev.Kind == events.KindConfirmationRequired {
			deliverErr = fx.gate.Deliver(ev.RequestID)
		}
	})
	f := New(fx.store.Page, fx.loc, offer.NewSelector(offer.DefaultPolicy()), cfg,
		WithEvents(confirmer),
		WithGate(fx.gate),
		WithSleeper(fx.sleeper.Sleep),
	)

	out := f.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.NoError(t, deliverErr)
	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptOK},
		attemptsIn(out, purchase.StateAwaitingOrderConfirmation))
	assert.Equal(t, 1, fx.store.Orders())
	assert.Empty(t, fx.gate.Pending())
}

func TestRun_TransientFailureIsRetried(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &p,
		Faults: []storefront.Fault{{Op: drivertest.OpNavigate, Error: "timeout"}},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptRetry, purchase.AttemptOK},
		attemptsIn(out, purchase.StateOpeningProduct))
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, fx.sleeper.Delays())
}

func TestRun_RetriesExhausted(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &p,
		Faults: []storefront.Fault{{Op: drivertest.OpWaitVisible, Field: locator.FieldCartPanel, Error: "timeout", Times: 3}},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, "retries_exhausted:AWAITING_CART_CONFIRMATION", out.Reason)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptRetry, purchase.AttemptRetry, purchase.AttemptExhausted},
		attemptsIn(out, purchase.StateAwaitingCartConfirmation))
	assert.Equal(t, "artifacts/screenshot-1", out.Artifact)
	assert.Equal(t, "artifacts/screenshot-1", out.Attempts[len(out.Attempts)-1].Artifact)
	assert.Equal(t, "artifacts/html-2", out.Snapshot)
	assert.Len(t, fx.sleeper.Delays(), 2)
	assert.Equal(t, 0, fx.store.Orders())
}

func TestRun_FatalAbortsWithoutRetry(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &p,
		Faults: []storefront.Fault{{Op: drivertest.OpNavigate, Error: "session_closed"}},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, "fatal:session_closed", out.Reason)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptFatal}, attemptsIn(out, purchase.StateOpeningProduct))
	assert.Equal(t, "artifacts/screenshot-1", out.Artifact)
	assert.Equal(t, "artifacts/html-2", out.Snapshot)
	assert.Empty(t, fx.sleeper.Delays())
}

func TestRun_CanceledContextIsFatal(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := fx.flow.Run(ctx, newRequest(t, storefront.DefaultProductURL, "29.74"))

	assert.Equal(t, purchase.StatusFailed, out.Status)
	assert.Equal(t, "fatal:canceled", out.Reason)
}

func TestRun_NoRetryAfterOrderEvidence(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &p,
		Faults: []storefront.Fault{{Op: drivertest.OpWaitVisible, Field: locator.FieldOrderConfirmation, Error: "timeout", Times: 2}},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptRetry, purchase.AttemptOK},
		attemptsIn(out, purchase.StatePlacingOrder))
	assert.Equal(t, 1, fx.store.Orders())

	placeOrder, err := fx.loc.Field(locator.FieldPlaceOrder)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.store.Page.Count(drivertest.OpClick, placeOrder.Selectors[0]))
}

func TestRun_OrderNumberUnreadableStillCompletes(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{
		Layout: storefront.LayoutDialog,
		Pinned: &p,
		Faults: []storefront.Fault{{Op: drivertest.OpRead, Field: locator.FieldOrderNumber, Error: "stale"}},
	}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.Empty(t, out.OrderRef)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptOK}, attemptsIn(out, purchase.StatePlacingOrder))
	assert.Equal(t, 1, fx.store.Orders())
	assert.Equal(t, 0, fx.store.Page.Count(drivertest.OpCapture, "screenshot"))
}

func TestRun_DryRunSimulatesPlacement(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, cfg)

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))

	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)
	assert.True(t, out.Simulated)
	assert.Equal(t, purchase.ReasonDryRun, out.Reason)
	assert.Equal(t, []purchase.AttemptOutcome{purchase.AttemptSimulated}, attemptsIn(out, purchase.StatePlacingOrder))
	assert.Equal(t, 0, fx.store.Orders())
}

func TestRun_StatesOnlyMoveForward(t *testing.T) {
	products := []storefront.Product{
		{Layout: storefront.LayoutDialog, Pinned: &storefront.Offer{Price: "$29.74", ShipsFrom: "Amazon.com", SoldBy: "Amazon.com"}},
		{Layout: storefront.LayoutDialog, Offers: []storefront.Offer{thirdParty("$1.00")}},
		{Layout: storefront.LayoutBuybox, Pinned: &storefront.Offer{Price: "$29.74"}, Merchant: "Ships from and sold by Amazon.com"},
		{Layout: storefront.LayoutDialog, NoOffers: true},
	}
	for _, p := range products {
		fx := newFixture(t, p, testConfig())
		out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))
		for i := 1; i < len(out.States); i++ {
			assert.True(t, out.States[i-1].Before(out.States[i]), "%v", out.States)
		}
		assert.True(t, out.LastState().IsTerminal())
	}
}

func TestRun_PublishesStateChanges(t *testing.T) {
	p := amazon("$29.74")
	fx := newFixture(t, storefront.Product{Layout: storefront.LayoutDialog, Pinned: &p}, testConfig())

	out := fx.flow.Run(context.Background(), newRequest(t, storefront.DefaultProductURL, "29.74"))
	require.Equal(t, purchase.StatusCompleted, out.Status, out.Message)

	var states []string
	attempts := 0
	for _, ev := range fx.bus.History(0) {
		assert.Equal(t, "req-1", ev.RequestID)
		switch ev.Kind {
		case events.KindStateChange:
			states = append(states, ev.State)
		case events.KindAttempt:
			attempts++
		}
	}
	var want []string
	for _, s := range fullPath() {
		want = append(want, s.String())
	}
	assert.Equal(t, want, states)
	assert.Equal(t, len(out.Attempts), attempts)
}
