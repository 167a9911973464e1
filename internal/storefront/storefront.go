// Package storefront builds scripted retail pages on top of drivertest.
//
// A Product describes a listing the way a tester thinks about it (pinned
// offer, offer list, merchant line, injected faults); Build turns it into a
// drivertest.Page laid out with the selectors of a locator map, wired so
// that adding to cart opens the cart panel, checkout leads to the
// place-order page and placing the order shows a confirmation.
package storefront

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/driver/drivertest"
	"github.com/roach88/dropcart/internal/locator"
)

// Default URLs used when a Product leaves them empty.
const (
	DefaultProductURL  = "https://www.amazon.com/dp/B0TESTITEM"
	DefaultCheckoutURL = "https://www.amazon.com/checkout/entry/cart?proceedToCheckout=1"
)

// Layouts.
const (
	LayoutDialog = "dialog"
	LayoutBuybox = "buybox"
)

// Offer is one seller card.
type Offer struct {
	Price     string `yaml:"price"`
	ShipsFrom string `yaml:"ships_from"`
	SoldBy    string `yaml:"sold_by"`
}

// Fault injects driver errors. Field names a locator field; URL targets a
// navigation. Error is one of timeout, not_found, stale, session_closed.
type Fault struct {
	Op    string `yaml:"op"`
	Field string `yaml:"field,omitempty"`
	URL   string `yaml:"url,omitempty"`
	Error string `yaml:"error"`
	Times int    `yaml:"times,omitempty"`
}

// Product describes a listing and its checkout.
type Product struct {
	URL          string  `yaml:"url,omitempty"`
	CheckoutURL  string  `yaml:"checkout_url,omitempty"`
	Layout       string  `yaml:"layout"`
	DialogOpen   bool    `yaml:"dialog_open,omitempty"`
	Unavailable  bool    `yaml:"unavailable,omitempty"`
	NoOffers     bool    `yaml:"no_offers,omitempty"`
	Pinned       *Offer  `yaml:"pinned,omitempty"`
	Offers       []Offer `yaml:"offers,omitempty"`
	Merchant     string  `yaml:"merchant,omitempty"`
	NoCartPanel  bool    `yaml:"no_cart_panel,omitempty"`
	OrderRef     string  `yaml:"order_ref,omitempty"`
	HideOrderRef bool    `yaml:"hide_order_ref,omitempty"`
	Faults       []Fault `yaml:"faults,omitempty"`
}

// Store is a built storefront. It records what the automation did.
type Store struct {
	Page *drivertest.Page

	mu     sync.Mutex
	cart   []Offer
	orders int
}

// Cart returns the offers added to the cart, in order.
func (s *Store) Cart() []Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Offer, len(s.cart))
	copy(out, s.cart)
	return out
}

// Orders returns how many times the order was placed.
func (s *Store) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders
}

// Build lays p out with loc's selectors.
func Build(p Product, loc *locator.Map) (*Store, error) {
	if p.URL == "" {
		p.URL = DefaultProductURL
	}
	if p.CheckoutURL == "" {
		p.CheckoutURL = DefaultCheckoutURL
	}
	if p.Layout == "" {
		p.Layout = LayoutDialog
	}
	if p.OrderRef == "" {
		p.OrderRef = "111-0000000-0000000"
	}

	b := &builder{loc: loc, store: &Store{Page: drivertest.New()}, p: p}
	root, err := b.productPage()
	if err != nil {
		return nil, err
	}
	checkout, err := b.checkoutPage()
	if err != nil {
		return nil, err
	}
	b.store.Page.Route(p.URL, root).Route(p.CheckoutURL, checkout)

	for _, f := range p.Faults {
		if err := b.fault(f); err != nil {
			return nil, err
		}
	}
	return b.store, nil
}

type builder struct {
	loc   *locator.Map
	store *Store
	p     Product
	err   error
}

// sel returns the primary selector for a field.
func (b *builder) sel(field string) string {
	f, err := b.loc.Field(field)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return field
	}
	return f.Selectors[0]
}

func (b *builder) productPage() (*drivertest.Node, error) {
	root := drivertest.NewNode("")
	root.With("#desktop_buybox", drivertest.NewNode(""))

	if b.p.Unavailable {
		root.With(b.sel(locator.FieldUnavailable), drivertest.NewNode("Currently unavailable."))
	}

	switch b.p.Layout {
	case LayoutBuybox:
		b.buybox(root)
	case LayoutDialog:
		b.dialog(root)
	default:
		return nil, fmt.Errorf("unknown layout %q", b.p.Layout)
	}
	return root, b.err
}

func (b *builder) buybox(root *drivertest.Node) {
	if o := b.p.Pinned; o != nil {
		root.With(b.sel(locator.FieldBuyboxPrice), drivertest.NewNode(o.Price))
		if o.ShipsFrom != "" {
			root.With(b.sel(locator.FieldBuyboxShipsFrom), drivertest.NewNode(o.ShipsFrom))
		}
		if o.SoldBy != "" {
			root.With(b.sel(locator.FieldBuyboxSoldBy), drivertest.NewNode(o.SoldBy))
		}
	}
	if b.p.Merchant != "" {
		root.With(b.sel(locator.FieldBuyboxMerchant), drivertest.NewNode(b.p.Merchant))
	}
	var added Offer
	if b.p.Pinned != nil {
		added = *b.p.Pinned
	}
	root.With(b.sel(locator.FieldAddToCart), drivertest.NewNode("Add to Cart").Clicked(b.addToCart(added)))
}

func (b *builder) dialog(root *drivertest.Node) {
	dialogSel := b.sel(locator.FieldOfferDialog)
	dialog := drivertest.NewNode("")
	if !b.p.DialogOpen {
		dialog.Hide()
		root.With(b.sel(locator.FieldSeeAllOffers), drivertest.NewNode("See All Buying Options").Clicked(func(p *drivertest.Page) error {
			p.Show(dialogSel)
			return nil
		}))
	}

	if b.p.NoOffers {
		dialog.With(b.sel(locator.FieldNoOffers), drivertest.NewNode("No featured offers available"))
	}
	if b.p.Pinned != nil {
		dialog.With(b.sel(locator.FieldPinnedOffer), b.card(*b.p.Pinned))
		dialog.With(b.sel(locator.FieldOfferExpand), drivertest.NewNode("See more"))
	}
	listSel := b.sel(locator.FieldOfferListItem)
	for _, o := range b.p.Offers {
		dialog.With(listSel, b.card(o))
	}
	root.With(dialogSel, dialog)
}

func (b *builder) card(o Offer) *drivertest.Node {
	n := drivertest.NewNode("")
	if o.Price != "" {
		n.With(b.sel(locator.FieldOfferPrice), drivertest.NewNode(o.Price))
	}
	if o.ShipsFrom != "" {
		n.With(b.sel(locator.FieldOfferShipsFrom), drivertest.NewNode("Ships from\n"+o.ShipsFrom))
	}
	if o.SoldBy != "" {
		n.With(b.sel(locator.FieldOfferSoldBy), drivertest.NewNode(o.SoldBy))
	}
	n.With(b.sel(locator.FieldOfferAddToCart), drivertest.NewNode("Add to Cart").Clicked(b.addToCart(o)))
	return n
}

func (b *builder) addToCart(o Offer) func(*drivertest.Page) error {
	panelSel := b.sel(locator.FieldCartPanel)
	checkoutSel := b.sel(locator.FieldPanelCheckout)
	checkoutURL := b.p.CheckoutURL
	noPanel := b.p.NoCartPanel
	return func(p *drivertest.Page) error {
		b.store.mu.Lock()
		b.store.cart = append(b.store.cart, o)
		b.store.mu.Unlock()
		if noPanel {
			return nil
		}
		p.Mount(panelSel, drivertest.NewNode("Added to cart"))
		p.Mount(checkoutSel, drivertest.NewNode("Proceed to checkout").Clicked(func(p *drivertest.Page) error {
			return p.Navigate(context.Background(), checkoutURL)
		}))
		return nil
	}
}

func (b *builder) checkoutPage() (*drivertest.Node, error) {
	confirmSel := b.sel(locator.FieldOrderConfirmation)
	refSel := b.sel(locator.FieldOrderNumber)
	ref := b.p.OrderRef
	hideRef := b.p.HideOrderRef

	root := drivertest.NewNode("")
	root.With(b.sel(locator.FieldPlaceOrder), drivertest.NewNode("Place your order").Clicked(func(p *drivertest.Page) error {
		b.store.mu.Lock()
		b.store.orders++
		b.store.mu.Unlock()
		p.Mount(confirmSel, drivertest.NewNode("Order placed, thank you!"))
		if !hideRef {
			p.Mount(refSel, drivertest.NewNode(ref))
		}
		return nil
	}))
	return root, b.err
}

func (b *builder) fault(f Fault) error {
	errFor := map[string]error{
		"timeout":        driver.ErrTimeout,
		"not_found":      driver.ErrNotFound,
		"stale":          driver.ErrStale,
		"session_closed": driver.ErrSessionClosed,
	}
	e, ok := errFor[f.Error]
	if !ok {
		return fmt.Errorf("fault: unknown error %q", f.Error)
	}
	times := f.Times
	if times <= 0 {
		times = 1
	}
	errs := make([]error, times)
	for i := range errs {
		errs[i] = e
	}

	target := f.URL
	if f.Op != drivertest.OpNavigate {
		t, err := Target(b.loc, f.Op, f.Field)
		if err != nil {
			return fmt.Errorf("fault: %w", err)
		}
		target = t
	} else if target == "" {
		target = b.p.URL
	}
	b.store.Page.Fail(f.Op, target, errs...)
	return nil
}

// Target returns the drivertest call target that op records for field:
// the selector group for waits, the primary selector for element
// operations.
func Target(loc *locator.Map, op, field string) (string, error) {
	f, err := loc.Field(field)
	if err != nil {
		return "", err
	}
	switch op {
	case drivertest.OpWaitVisible, drivertest.OpWaitHidden:
		return f.Group(), nil
	case drivertest.OpClick, drivertest.OpRead, drivertest.OpLocate:
		return f.Selectors[0], nil
	default:
		return "", fmt.Errorf("unsupported op %q", op)
	}
}
