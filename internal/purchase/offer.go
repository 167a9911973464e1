package purchase

import "github.com/shopspring/decimal"

// Offer is one seller/price variant of a listing as read from the page.
//
// Position is the zero-based index in the presented list. The pinned offer
// has Position -1.
type Offer struct {
	Price     decimal.Decimal `json:"price"`
	ShipsFrom string          `json:"ships_from"`
	SoldBy    string          `json:"sold_by"`
	Pinned    bool            `json:"pinned"`
	Position  int             `json:"position"`
}

// PinnedPosition is the Position reported by the pinned offer.
const PinnedPosition = -1

// DecisionReason explains a seller decision.
type DecisionReason string

const (
	ReasonPinnedValid    DecisionReason = "pinned-valid"
	ReasonListMatch      DecisionReason = "list-match"
	ReasonPriceExceeded  DecisionReason = "price-exceeded"
	ReasonInvalidShipper DecisionReason = "invalid-shipper"
	ReasonNoOffers       DecisionReason = "no-offers"
)

// Decision is the result of offer selection.
//
// Offer is set only when Accepted. Inspected counts list candidates that were
// read; the pinned offer is not counted.
type Decision struct {
	Accepted  bool           `json:"accepted"`
	Offer     *Offer         `json:"offer,omitempty"`
	Reason    DecisionReason `json:"reason"`
	Inspected int            `json:"inspected"`
}

// Accept builds an accepted decision.
func Accept(o Offer, reason DecisionReason, inspected int) Decision {
	return Decision{Accepted: true, Offer: &o, Reason: reason, Inspected: inspected}
}

// Reject builds a rejected decision.
func Reject(reason DecisionReason, inspected int) Decision {
	return Decision{Reason: reason, Inspected: inspected}
}
