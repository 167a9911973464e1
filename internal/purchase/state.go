package purchase

import "fmt"

// State is a position in the purchase flow.
//
// States are totally ordered. A flow only ever moves to a strictly greater
// state; repeating a state is only possible as an in-place retry.
type State int

const (
	StateOpeningProduct State = iota + 1
	StateResolvingOffer
	StateAddingToCart
	StateAwaitingCartConfirmation
	StateProceedingToCheckout
	StateAwaitingOrderConfirmation
	StatePlacingOrder
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateOpeningProduct:            "OPENING_PRODUCT",
	StateResolvingOffer:            "RESOLVING_OFFER",
	StateAddingToCart:              "ADDING_TO_CART",
	StateAwaitingCartConfirmation:  "AWAITING_CART_CONFIRMATION",
	StateProceedingToCheckout:      "PROCEEDING_TO_CHECKOUT",
	StateAwaitingOrderConfirmation: "AWAITING_ORDER_CONFIRMATION",
	StatePlacingOrder:              "PLACING_ORDER",
	StateCompleted:                 "COMPLETED",
	StateFailed:                    "FAILED",
}

// States returns every state in flow order.
func States() []State {
	return []State{
		StateOpeningProduct,
		StateResolvingOffer,
		StateAddingToCart,
		StateAwaitingCartConfirmation,
		StateProceedingToCheckout,
		StateAwaitingOrderConfirmation,
		StatePlacingOrder,
		StateCompleted,
		StateFailed,
	}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseState is the inverse of String. It returns false for unknown names.
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Before reports whether s strictly precedes other in flow order.
func (s State) Before(other State) bool {
	return s < other
}

// MarshalText renders the state by name so JSON and YAML carry readable values.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	st, ok := ParseState(string(text))
	if !ok {
		return fmt.Errorf("unknown state %q", text)
	}
	*s = st
	return nil
}
