package offer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/purchase"
)

// Layout tells a PageSource where offers live.
type Layout int

const (
	// LayoutDialog reads the multi-offer dialog: a pinned card and a list.
	LayoutDialog Layout = iota + 1

	// LayoutBuybox reads the standard product page. The buybox is the
	// pinned offer and the list is empty.
	LayoutBuybox
)

func (l Layout) String() string {
	switch l {
	case LayoutDialog:
		return "dialog"
	case LayoutBuybox:
		return "buybox"
	default:
		return "unknown"
	}
}

// PageSource reads offers from the live page through the locator map.
// Every attribute of an offer is read inside that offer's container.
type PageSource struct {
	d      driver.Driver
	loc    *locator.Map
	layout Layout

	probed bool
	empty  bool
	items  []driver.Element
}

var _ Source = (*PageSource)(nil)

// NewPageSource returns a source for layout.
func NewPageSource(d driver.Driver, loc *locator.Map, layout Layout) *PageSource {
	return &PageSource{d: d, loc: loc, layout: layout}
}

// Layout reports which layout the source reads.
func (s *PageSource) Layout() Layout {
	return s.layout
}

// probe runs once: it checks the no-offers marker and locates list
// containers without reading any of them.
func (s *PageSource) probe(ctx context.Context) error {
	if s.probed {
		return nil
	}
	if s.layout == LayoutDialog {
		none, err := s.loc.Present(ctx, s.d, locator.FieldNoOffers, nil)
		if err != nil {
			return err
		}
		s.empty = none
		if !none {
			items, err := s.loc.Find(ctx, s.d, locator.FieldOfferListItem, nil)
			if err != nil && !errors.Is(err, driver.ErrNotFound) {
				return err
			}
			s.items = items
		}
	}
	s.probed = true
	return nil
}

func (s *PageSource) Pinned(ctx context.Context) (purchase.Offer, bool, error) {
	if err := s.probe(ctx); err != nil {
		return purchase.Offer{}, false, err
	}
	if s.empty {
		return purchase.Offer{}, false, nil
	}
	if s.layout == LayoutBuybox {
		return s.readBuybox(ctx)
	}

	container, err := s.loc.First(ctx, s.d, locator.FieldPinnedOffer, nil)
	if errors.Is(err, driver.ErrNotFound) {
		return purchase.Offer{}, false, nil
	}
	if err != nil {
		return purchase.Offer{}, false, err
	}
	o, err := s.readCard(ctx, container, purchase.PinnedPosition)
	if err != nil && !errors.Is(err, ErrPriceUnreadable) {
		return purchase.Offer{}, false, err
	}
	return o, true, err
}

func (s *PageSource) Len(ctx context.Context) (int, error) {
	if err := s.probe(ctx); err != nil {
		return 0, err
	}
	if s.empty {
		return 0, nil
	}
	return len(s.items), nil
}

func (s *PageSource) At(ctx context.Context, i int) (purchase.Offer, error) {
	if err := s.probe(ctx); err != nil {
		return purchase.Offer{}, err
	}
	if i < 0 || i >= len(s.items) {
		return purchase.Offer{}, fmt.Errorf("offer %d out of range (%d offers)", i, len(s.items))
	}
	return s.readCard(ctx, s.items[i], i)
}

// Commit clicks the add-to-cart control belonging to o. Containers are
// located again so a retry after a stale handle still targets the same
// offer.
func (s *PageSource) Commit(ctx context.Context, o purchase.Offer) error {
	if s.layout == LayoutBuybox {
		return s.loc.Click(ctx, s.d, locator.FieldAddToCart, nil)
	}

	var container driver.Element
	if o.Pinned {
		el, err := s.loc.First(ctx, s.d, locator.FieldPinnedOffer, nil)
		if err != nil {
			return err
		}
		container = el
	} else {
		items, err := s.loc.Find(ctx, s.d, locator.FieldOfferListItem, nil)
		if err != nil {
			return err
		}
		if o.Position < 0 || o.Position >= len(items) {
			return driver.Wrap("commit offer", locator.FieldOfferListItem,
				fmt.Errorf("%w: offer %d of %d", driver.ErrNotFound, o.Position, len(items)))
		}
		container = items[o.Position]
	}
	return s.loc.Click(ctx, s.d, locator.FieldOfferAddToCart, container)
}

func (s *PageSource) readCard(ctx context.Context, container driver.Element, position int) (purchase.Offer, error) {
	o := purchase.Offer{Position: position, Pinned: position == purchase.PinnedPosition}

	ships, err := s.optionalText(ctx, locator.FieldOfferShipsFrom, container)
	if err != nil {
		return o, err
	}
	sold, err := s.optionalText(ctx, locator.FieldOfferSoldBy, container)
	if err != nil {
		return o, err
	}
	o.ShipsFrom = attributeValue(ships, "ships from")
	o.SoldBy = attributeValue(sold, "sold by")

	priceText, err := s.optionalText(ctx, locator.FieldOfferPrice, container)
	if err != nil {
		return o, err
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return o, err
	}
	o.Price = price
	return o, nil
}

func (s *PageSource) readBuybox(ctx context.Context) (purchase.Offer, bool, error) {
	o := purchase.Offer{Position: purchase.PinnedPosition, Pinned: true}

	priceText, err := s.optionalText(ctx, locator.FieldBuyboxPrice, nil)
	if err != nil {
		return o, false, err
	}
	ships, err := s.optionalText(ctx, locator.FieldBuyboxShipsFrom, nil)
	if err != nil {
		return o, false, err
	}
	sold, err := s.optionalText(ctx, locator.FieldBuyboxSoldBy, nil)
	if err != nil {
		return o, false, err
	}
	merchant, err := s.optionalText(ctx, locator.FieldBuyboxMerchant, nil)
	if err != nil {
		return o, false, err
	}
	if priceText == "" && ships == "" && sold == "" && merchant == "" {
		return o, false, nil
	}

	o.ShipsFrom = attributeValue(ships, "ships from")
	o.SoldBy = attributeValue(sold, "sold by")
	if mShips, mSold := parseMerchantLine(merchant); mShips != "" || mSold != "" {
		if o.ShipsFrom == "" {
			o.ShipsFrom = mShips
		}
		if o.SoldBy == "" {
			o.SoldBy = mSold
		}
	}

	price, err := ParsePrice(priceText)
	if err != nil {
		return o, true, err
	}
	o.Price = price
	return o, true, nil
}

// optionalText reads a field, mapping "not found" to the empty string.
func (s *PageSource) optionalText(ctx context.Context, field string, scope driver.Element) (string, error) {
	text, err := s.loc.Text(ctx, s.d, field, scope)
	if errors.Is(err, driver.ErrNotFound) {
		return "", nil
	}
	return text, err
}

// attributeValue picks the value out of a labelled container such as
// "Ships from\nAmazon.com" or "Sold by Amazon.com". Rating lines are skipped.
func attributeValue(text, label string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) >= len(label) && strings.EqualFold(line[:len(label)], label) {
			line = strings.TrimSpace(strings.TrimLeft(line[len(label):], ":"))
			if line == "" {
				continue
			}
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "rating") || strings.Contains(line, "%") {
			continue
		}
		return line
	}
	return ""
}

var (
	shipsAndSoldRe = regexp.MustCompile(`(?i)ships from and sold by\s+(.+?)\.?$`)
	soldAndShipRe  = regexp.MustCompile(`(?i)sold by\s+(.+?)\s+and\s+(?:shipped|fulfilled) by\s+(.+?)\.?$`)
)

// parseMerchantLine reads the combined merchant sentence of a standard
// product page.
func parseMerchantLine(text string) (shipsFrom, soldBy string) {
	text = strings.Join(strings.Fields(text), " ")
	if m := shipsAndSoldRe.FindStringSubmatch(text); m != nil {
		return m[1], m[1]
	}
	if m := soldAndShipRe.FindStringSubmatch(text); m != nil {
		return m[2], m[1]
	}
	return "", ""
}

// DialogTimeouts bounds OpenDialog.
type DialogTimeouts struct {
	Open time.Duration
}

// OpenDialog makes sure the multi-offer dialog is showing, clicking the
// "see all buying options" affordance when needed, and expands the pinned
// card's "see more" link so the list is rendered.
func OpenDialog(ctx context.Context, d driver.Driver, loc *locator.Map, t DialogTimeouts) error {
	visible := loc.WaitVisible(ctx, d, locator.FieldOfferDialog, 0)
	if visible != nil {
		if !driver.IsTransient(visible) {
			return visible
		}
		if err := loc.Click(ctx, d, locator.FieldSeeAllOffers, nil); err != nil {
			return err
		}
		if err := loc.WaitVisible(ctx, d, locator.FieldOfferDialog, t.Open); err != nil {
			return err
		}
	}

	expand, err := loc.First(ctx, d, locator.FieldOfferExpand, nil)
	if errors.Is(err, driver.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := d.Click(ctx, expand); err != nil && !driver.IsTransient(err) {
		return err
	}
	return nil
}

// DialogAvailable reports whether a standard page offers the dialog.
func DialogAvailable(ctx context.Context, d driver.Driver, loc *locator.Map) (bool, error) {
	return loc.Present(ctx, d, locator.FieldSeeAllOffers, nil)
}
