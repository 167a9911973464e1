package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/offer"
	"github.com/roach88/dropcart/internal/purchase"
)

func (x *execution) openProduct(ctx context.Context) (Signal, error) {
	f := x.flow
	return x.retry(ctx, purchase.StateOpeningProduct, func(ctx context.Context, _ int) error {
		if err := f.driver.Navigate(ctx, x.req.URL); err != nil {
			return err
		}
		return f.loc.WaitVisible(ctx, f.driver, locator.FieldProductReady, f.cfg.Timeouts.PageLoad)
	})
}

func (x *execution) resolveOffer(ctx context.Context) (Signal, error) {
	f := x.flow
	return x.retry(ctx, purchase.StateResolvingOffer, func(ctx context.Context, _ int) error {
		unavailable, err := f.loc.Present(ctx, f.driver, locator.FieldUnavailable, nil)
		if err != nil {
			return err
		}
		if unavailable {
			return &RejectionError{
				Decision: purchase.Reject(purchase.ReasonNoOffers, 0),
				Message:  "Rejected: product is currently unavailable",
			}
		}

		layout, err := x.prepareOffers(ctx)
		if err != nil {
			return err
		}

		src := offer.NewPageSource(f.driver, f.loc, layout)
		decision, err := f.selector.Resolve(ctx, src, x.req.ExpectedPrice)
		if err != nil {
			return err
		}
		d := decision
		x.out.Decision = &d

		slog.Info("offer resolved",
			"request_id", x.req.ID,
			"layout", layout.String(),
			"accepted", decision.Accepted,
			"reason", string(decision.Reason),
			"inspected", decision.Inspected,
		)
		if !decision.Accepted {
			return &RejectionError{Decision: decision}
		}
		x.source = src
		return nil
	})
}

// prepareOffers puts the page in the layout offers are read from. A
// dialog link in the URL, or a "see all buying options" affordance, opens
// the multi-offer dialog; otherwise the buybox is read.
func (x *execution) prepareOffers(ctx context.Context) (offer.Layout, error) {
	f := x.flow
	timeouts := offer.DialogTimeouts{Open: f.cfg.Timeouts.OfferDialog}

	if x.req.OffersDialogRequested() {
		return offer.LayoutDialog, offer.OpenDialog(ctx, f.driver, f.loc, timeouts)
	}

	available, err := offer.DialogAvailable(ctx, f.driver, f.loc)
	if err != nil {
		return 0, err
	}
	if available {
		return offer.LayoutDialog, offer.OpenDialog(ctx, f.driver, f.loc, timeouts)
	}
	return offer.LayoutBuybox, f.loc.WaitVisible(ctx, f.driver, locator.FieldAddToCart, f.cfg.Timeouts.BuyboxReady)
}

func (x *execution) addToCart(ctx context.Context) (Signal, error) {
	f := x.flow
	if x.source == nil || x.out.Decision == nil || x.out.Decision.Offer == nil {
		return Abort, &FatalError{Detail: "no offer selected"}
	}
	chosen := *x.out.Decision.Offer

	sig, err := x.retry(ctx, purchase.StateAddingToCart, func(ctx context.Context, _ int) error {
		return x.source.Commit(ctx, chosen)
	})
	if sig != Advance || !f.cfg.FastCheckout {
		return sig, err
	}

	if err := f.sleep(ctx, f.cfg.FastCheckoutDelay); err != nil {
		return Abort, &FatalError{Detail: "interrupted", Err: err}
	}
	return Bypass, nil
}

func (x *execution) awaitCart(ctx context.Context) (Signal, error) {
	f := x.flow
	return x.retry(ctx, purchase.StateAwaitingCartConfirmation, func(ctx context.Context, _ int) error {
		return f.loc.WaitVisible(ctx, f.driver, locator.FieldCartPanel, f.cfg.Timeouts.CartConfirm)
	})
}

func (x *execution) proceedToCheckout(ctx context.Context) (Signal, error) {
	f := x.flow
	sig, err := x.retry(ctx, purchase.StateProceedingToCheckout, func(ctx context.Context, _ int) error {
		if f.cfg.FastCheckout {
			if err := f.driver.Navigate(ctx, f.cfg.CheckoutEntryURL); err != nil {
				return err
			}
			return f.loc.WaitVisible(ctx, f.driver, locator.FieldCheckoutReady, f.cfg.Timeouts.CheckoutReady)
		}

		// A previous attempt may already have reached checkout.
		if err := f.loc.WaitVisible(ctx, f.driver, locator.FieldCheckoutReady, f.cfg.Timeouts.Probe); err == nil {
			return nil
		} else if !driver.IsTransient(err) {
			return err
		}

		err := f.loc.Click(ctx, f.driver, locator.FieldPanelCheckout, nil)
		if errors.Is(err, driver.ErrNotFound) {
			err = f.loc.Click(ctx, f.driver, locator.FieldCartCheckout, nil)
		}
		if err != nil {
			return err
		}
		return f.loc.WaitVisible(ctx, f.driver, locator.FieldCheckoutReady, f.cfg.Timeouts.CheckoutLoad)
	})
	if sig == Advance && !f.cfg.ConfirmFinalOrder {
		return Bypass, nil
	}
	return sig, err
}

func (x *execution) awaitOrderConfirmation(ctx context.Context) (Signal, error) {
	f := x.flow
	const state = purchase.StateAwaitingOrderConfirmation
	if f.gate == nil {
		err := &FatalError{Detail: "no confirmation gate"}
		x.record(state, 1, purchase.AttemptFatal, err)
		return Abort, err
	}

	// Armed before the announcement so an immediate confirm is not lost.
	waiter, err := f.gate.Expect(x.req.ID)
	if err != nil {
		fe := &FatalError{Detail: "confirmation", Err: err}
		x.record(state, 1, purchase.AttemptFatal, fe)
		return Abort, fe
	}

	f.events.Publish(events.Event{
		Kind:      events.KindConfirmationRequired,
		RequestID: x.req.ID,
		State:     state.String(),
		Detail:    x.req.Label(),
	})
	slog.Info("awaiting order confirmation",
		"request_id", x.req.ID,
		"timeout", f.cfg.ConfirmationTimeout,
	)

	err = waiter.Wait(ctx, f.cfg.ConfirmationTimeout)
	switch {
	case err == nil:
		x.record(state, 1, purchase.AttemptOK, nil)
		return Advance, nil
	case errors.Is(err, confirm.ErrTimeout):
		x.record(state, 1, purchase.AttemptTimeout, err)
		return Timeout, err
	default:
		fe := &FatalError{Detail: "confirmation", Err: err}
		x.record(state, 1, purchase.AttemptFatal, fe)
		return Abort, fe
	}
}

// placeOrder runs the irreversible step. Every attempt first looks for
// evidence that an earlier click went through; once evidence is seen the
// step succeeds and nothing else is clicked.
func (x *execution) placeOrder(ctx context.Context) (Signal, error) {
	f := x.flow
	const state = purchase.StatePlacingOrder

	if f.cfg.DryRun {
		x.out.Simulated = true
		x.record(state, 1, purchase.AttemptSimulated, nil)
		slog.Info("dry run: order not placed", "request_id", x.req.ID)
		return Advance, nil
	}

	sig, err := x.retry(ctx, state, func(ctx context.Context, _ int) error {
		probe := f.loc.WaitVisible(ctx, f.driver, locator.FieldOrderConfirmation, f.cfg.Timeouts.Probe)
		if probe != nil && !driver.IsTransient(probe) {
			return probe
		}
		if probe != nil {
			if err := f.loc.Click(ctx, f.driver, locator.FieldPlaceOrder, nil); err != nil {
				return err
			}
			if err := f.loc.WaitVisible(ctx, f.driver, locator.FieldOrderConfirmation, f.cfg.Timeouts.CheckoutLoad); err != nil {
				return err
			}
		}

		x.placed = true
		ref, err := f.loc.Text(ctx, f.driver, locator.FieldOrderNumber, nil)
		if err != nil {
			slog.Warn("order placed but order number unreadable", "request_id", x.req.ID, "error", err)
			return nil
		}
		x.out.OrderRef = ref
		return nil
	})
	if x.placed {
		f.events.Publish(events.Event{
			Kind:      events.KindOrderPlaced,
			RequestID: x.req.ID,
			State:     state.String(),
			Detail:    x.out.OrderRef,
		})
		return Advance, nil
	}
	return sig, err
}
