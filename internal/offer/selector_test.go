package offer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcart/internal/purchase"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func amazon(p string, pos int) purchase.Offer {
	return purchase.Offer{Price: *price(p), ShipsFrom: "Amazon.com", SoldBy: "Amazon.com", Position: pos}
}

func marketplace(p string, pos int) purchase.Offer {
	return purchase.Offer{Price: *price(p), ShipsFrom: "Third Party LLC", SoldBy: "Third Party LLC", Position: pos}
}

func pinned(o purchase.Offer) *purchase.Offer {
	o.Pinned = true
	o.Position = purchase.PinnedPosition
	return &o
}

// guardedSource fails the test if the list is read past limit.
type guardedSource struct {
	StaticSource
	t     *testing.T
	limit int
}

func (g *guardedSource) At(ctx context.Context, i int) (purchase.Offer, error) {
	if i >= g.limit {
		g.t.Fatalf("offer %d read after the search should have stopped", i)
	}
	return g.StaticSource.At(ctx, i)
}

func TestResolve_PinnedValidNeverTouchesList(t *testing.T) {
	src := &guardedSource{
		StaticSource: StaticSource{
			PinnedOffer: pinned(amazon("29.74", 0)),
			List:        []purchase.Offer{amazon("20.00", 0)},
		},
		t: t, limit: 0,
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)

	assert.True(t, d.Accepted)
	assert.Equal(t, purchase.ReasonPinnedValid, d.Reason)
	assert.True(t, d.Offer.Pinned)
	assert.Equal(t, 0, d.Inspected)
	assert.Equal(t, 0, src.Reads)
}

func TestResolve_ListMatchAfterInvalidPinned(t *testing.T) {
	// Pinned is marketplace at 27.50; list is 27.50 marketplace,
	// 29.74 first-party, 31.00 first-party.
	src := &guardedSource{
		StaticSource: StaticSource{
			PinnedOffer: pinned(marketplace("27.50", 0)),
			List: []purchase.Offer{
				marketplace("27.50", 0),
				amazon("29.74", 1),
				amazon("31.00", 2),
			},
		},
		t: t, limit: 2,
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)

	assert.True(t, d.Accepted)
	assert.Equal(t, purchase.ReasonListMatch, d.Reason)
	assert.Equal(t, 1, d.Offer.Position)
	assert.True(t, d.Offer.Price.Equal(*price("29.74")))
	assert.Equal(t, 2, d.Inspected)
}

func TestResolve_EarlyTerminationOnPriceExceeded(t *testing.T) {
	src := &guardedSource{
		StaticSource: StaticSource{
			List: []purchase.Offer{amazon("35.00", 0), amazon("36.00", 1)},
		},
		t: t, limit: 1,
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)

	assert.False(t, d.Accepted)
	assert.Equal(t, purchase.ReasonPriceExceeded, d.Reason)
	assert.Nil(t, d.Offer)
	assert.Equal(t, 1, src.Reads)
}

func TestResolve_StopsAtFirstCandidateAboveExpected(t *testing.T) {
	// The first-party offer at 31.00 would be acceptable by shipper but is
	// never reached: the list is ascending and 30.00 already exceeds.
	src := &guardedSource{
		StaticSource: StaticSource{
			List: []purchase.Offer{
				marketplace("25.00", 0),
				marketplace("30.00", 1),
				amazon("31.00", 2),
			},
		},
		t: t, limit: 2,
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonPriceExceeded, d.Reason)
	assert.Equal(t, 2, d.Inspected)
}

func TestResolve_InvalidShipperOnly(t *testing.T) {
	src := &StaticSource{List: []purchase.Offer{marketplace("29.74", 0)}}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, purchase.ReasonInvalidShipper, d.Reason)
	assert.Equal(t, 1, d.Inspected)
}

func TestResolve_InvalidPinnedAndEmptyList(t *testing.T) {
	src := &StaticSource{PinnedOffer: pinned(marketplace("29.74", 0))}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonInvalidShipper, d.Reason)
}

func TestResolve_NoOffers(t *testing.T) {
	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), &StaticSource{}, price("29.74"))
	require.NoError(t, err)
	assert.False(t, d.Accepted)
	assert.Equal(t, purchase.ReasonNoOffers, d.Reason)
	assert.Equal(t, 0, d.Inspected)
}

func TestResolve_PinnedPriceMismatchFallsThroughToList(t *testing.T) {
	src := &StaticSource{
		PinnedOffer: pinned(amazon("28.00", 0)),
		List:        []purchase.Offer{amazon("28.00", 0), amazon("29.74", 1)},
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	// The list accepts any price at or below expected.
	assert.Equal(t, purchase.ReasonListMatch, d.Reason)
	assert.Equal(t, 0, d.Offer.Position)
}

func TestResolve_NoExpectedPriceAcceptsAnyPrice(t *testing.T) {
	src := &StaticSource{PinnedOffer: pinned(amazon("999.99", 0))}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.Equal(t, purchase.ReasonPinnedValid, d.Reason)

	src = &StaticSource{List: []purchase.Offer{marketplace("1.00", 0), amazon("500.00", 1)}}
	d, err = NewSelector(DefaultPolicy()).Resolve(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonListMatch, d.Reason)
	assert.Equal(t, 1, d.Offer.Position)
}

func TestResolve_ExactDecimalComparison(t *testing.T) {
	src := &StaticSource{PinnedOffer: pinned(amazon("29.740", 0))}
	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonPinnedValid, d.Reason)

	src = &StaticSource{PinnedOffer: pinned(amazon("29.75", 0))}
	d, err = NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonNoOffers, d.Reason)
}

type failingSource struct {
	StaticSource
	err error
}

func (f *failingSource) At(context.Context, int) (purchase.Offer, error) {
	return purchase.Offer{}, f.err
}

func TestResolve_PropagatesSourceErrors(t *testing.T) {
	boom := errors.New("stale card")
	src := &failingSource{StaticSource: StaticSource{List: []purchase.Offer{amazon("1.00", 0)}}, err: boom}

	_, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	assert.ErrorIs(t, err, boom)
}

func TestResolve_SkipsUnpricedCandidates(t *testing.T) {
	src := &failingSource{
		StaticSource: StaticSource{List: []purchase.Offer{amazon("1.00", 0)}},
		err:          ErrPriceUnreadable,
	}

	d, err := NewSelector(DefaultPolicy()).Resolve(context.Background(), src, price("29.74"))
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonNoOffers, d.Reason)
	assert.Equal(t, 1, d.Inspected)
}
