package offer

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/dropcart/internal/purchase"
)

// ShipperPolicy decides whether an offer's fulfiller and seller are
// acceptable.
//
// ShipsFrom must equal one of FirstPartyShippers. SoldBy must contain one of
// AcceptedSellers. Both comparisons are NFC-normalized and case-folded.
type ShipperPolicy struct {
	FirstPartyShippers []string
	AcceptedSellers    []string
}

// DefaultPolicy accepts the first-party retailer and its certified resale
// and warehouse arms.
func DefaultPolicy() ShipperPolicy {
	return ShipperPolicy{
		FirstPartyShippers: []string{"amazon.com"},
		AcceptedSellers:    []string{"amazon.com", "amazon resale", "amazon warehouse"},
	}
}

var folder = cases.Fold()

func normalizeName(s string) string {
	s = folder.String(norm.NFC.String(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ". ")
}

// Accepts reports whether o satisfies both halves of the policy.
func (p ShipperPolicy) Accepts(o purchase.Offer) bool {
	return p.shipperOK(o.ShipsFrom) && p.sellerOK(o.SoldBy)
}

func (p ShipperPolicy) shipperOK(shipsFrom string) bool {
	got := normalizeName(shipsFrom)
	if got == "" {
		return false
	}
	for _, want := range p.FirstPartyShippers {
		if got == normalizeName(want) {
			return true
		}
	}
	return false
}

func (p ShipperPolicy) sellerOK(soldBy string) bool {
	got := normalizeName(soldBy)
	if got == "" {
		return false
	}
	for _, want := range p.AcceptedSellers {
		if strings.Contains(got, normalizeName(want)) {
			return true
		}
	}
	return false
}
