// Package offer decides which seller/price variant of a listing may be
// bought.
//
// The algorithm checks the pinned (featured) offer first, then walks the
// offer list in presented order, which is ascending by price. Because the
// list is sorted, the first candidate above the expected price ends the
// search: nothing after it can be cheaper.
package offer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/roach88/dropcart/internal/purchase"
)

// Source yields offers lazily. Pinned and At may return an offer together
// with an error wrapping ErrPriceUnreadable; the offer then carries seller
// attributes but no usable price. Any other error aborts resolution.
type Source interface {
	Pinned(ctx context.Context) (purchase.Offer, bool, error)
	Len(ctx context.Context) (int, error)
	At(ctx context.Context, i int) (purchase.Offer, error)
}

// Selector resolves a Source against an expected price.
type Selector struct {
	policy ShipperPolicy
}

// NewSelector returns a Selector using policy.
func NewSelector(policy ShipperPolicy) *Selector {
	return &Selector{policy: policy}
}

// Policy returns the shipper policy in use.
func (s *Selector) Policy() ShipperPolicy {
	return s.policy
}

// Resolve picks an offer or explains why none qualifies. A nil expected
// price accepts any price.
//
// Errors come only from the Source and are returned wrapped so callers can
// classify them.
func (s *Selector) Resolve(ctx context.Context, src Source, expected *decimal.Decimal) (purchase.Decision, error) {
	sawShipperMismatch := false

	pinned, ok, err := src.Pinned(ctx)
	unpriced := errors.Is(err, ErrPriceUnreadable)
	if err != nil && !unpriced {
		return purchase.Decision{}, fmt.Errorf("pinned offer: %w", err)
	}
	if ok {
		priceOK := expected == nil || (!unpriced && pinned.Price.Equal(*expected))
		shipperOK := s.policy.Accepts(pinned)
		slog.Debug("pinned offer inspected",
			"price", pinned.Price.String(),
			"ships_from", pinned.ShipsFrom,
			"sold_by", pinned.SoldBy,
			"price_ok", priceOK,
			"shipper_ok", shipperOK,
		)
		if priceOK && shipperOK {
			return purchase.Accept(pinned, purchase.ReasonPinnedValid, 0), nil
		}
		if !shipperOK {
			sawShipperMismatch = true
		}
	}

	n, err := src.Len(ctx)
	if err != nil {
		return purchase.Decision{}, fmt.Errorf("offer list: %w", err)
	}

	inspected := 0
	for i := 0; i < n; i++ {
		cand, err := src.At(ctx, i)
		unpriced := errors.Is(err, ErrPriceUnreadable)
		if err != nil && !unpriced {
			return purchase.Decision{}, fmt.Errorf("offer %d: %w", i, err)
		}
		inspected++

		if expected != nil {
			if unpriced {
				slog.Debug("offer skipped, price unreadable", "position", i)
				continue
			}
			if cand.Price.GreaterThan(*expected) {
				slog.Debug("offer list passed expected price",
					"position", i,
					"price", cand.Price.String(),
					"expected", expected.String(),
				)
				return purchase.Reject(purchase.ReasonPriceExceeded, inspected), nil
			}
		}

		if s.policy.Accepts(cand) {
			return purchase.Accept(cand, purchase.ReasonListMatch, inspected), nil
		}
		sawShipperMismatch = true
		slog.Debug("offer rejected by shipper policy",
			"position", i,
			"ships_from", cand.ShipsFrom,
			"sold_by", cand.SoldBy,
		)
	}

	if sawShipperMismatch {
		return purchase.Reject(purchase.ReasonInvalidShipper, inspected), nil
	}
	return purchase.Reject(purchase.ReasonNoOffers, inspected), nil
}

// StaticSource is an in-memory Source.
type StaticSource struct {
	PinnedOffer *purchase.Offer
	List        []purchase.Offer

	// Reads counts At calls, for callers that assert laziness.
	Reads int
}

func (s *StaticSource) Pinned(context.Context) (purchase.Offer, bool, error) {
	if s.PinnedOffer == nil {
		return purchase.Offer{}, false, nil
	}
	return *s.PinnedOffer, true, nil
}

func (s *StaticSource) Len(context.Context) (int, error) {
	return len(s.List), nil
}

func (s *StaticSource) At(_ context.Context, i int) (purchase.Offer, error) {
	s.Reads++
	return s.List[i], nil
}
