package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/dropcart/internal/purchase"
)

// Signal is what a step reports to the driver loop.
type Signal int

const (
	// Advance moves to the next state on the normal path.
	Advance Signal = iota + 1

	// Bypass skips an optional state (fast checkout, no confirmation gate).
	Bypass

	// Reject is a terminal business rejection.
	Reject

	// Timeout is an expired confirmation wait.
	Timeout

	// Exhausted means the retry budget ran out.
	Exhausted

	// Abort is a fatal failure.
	Abort
)

var signalNames = map[Signal]string{
	Advance:   "advance",
	Bypass:    "bypass",
	Reject:    "reject",
	Timeout:   "timeout",
	Exhausted: "exhausted",
	Abort:     "fatal",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// ErrNoTransition is returned by Next for an edge the table lacks.
var ErrNoTransition = errors.New("no transition")

// Table maps (state, signal) to the next state.
type Table map[purchase.State]map[Signal]purchase.State

// DefaultTable is the checkout sequence.
func DefaultTable() Table {
	t := Table{
		purchase.StateOpeningProduct: {
			Advance: purchase.StateResolvingOffer,
		},
		purchase.StateResolvingOffer: {
			Advance: purchase.StateAddingToCart,
			Reject:  purchase.StateFailed,
		},
		purchase.StateAddingToCart: {
			Advance: purchase.StateAwaitingCartConfirmation,
			Bypass:  purchase.StateProceedingToCheckout,
		},
		purchase.StateAwaitingCartConfirmation: {
			Advance: purchase.StateProceedingToCheckout,
		},
		purchase.StateProceedingToCheckout: {
			Advance: purchase.StateAwaitingOrderConfirmation,
			Bypass:  purchase.StatePlacingOrder,
		},
		purchase.StateAwaitingOrderConfirmation: {
			Advance: purchase.StatePlacingOrder,
			Timeout: purchase.StateFailed,
		},
		purchase.StatePlacingOrder: {
			Advance: purchase.StateCompleted,
		},
	}
	for _, edges := range t {
		edges[Exhausted] = purchase.StateFailed
		edges[Abort] = purchase.StateFailed
	}
	return t
}

// Next returns the state reached from s on sig.
func (t Table) Next(s purchase.State, sig Signal) (purchase.State, error) {
	next, ok := t[s][sig]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNoTransition, s, sig)
	}
	return next, nil
}

// Validate checks that every edge moves strictly forward, that terminal
// states have no outgoing edges, and that every other state can fail.
func (t Table) Validate() error {
	var problems []string
	for _, s := range purchase.States() {
		edges := t[s]
		if s.IsTerminal() {
			if len(edges) > 0 {
				problems = append(problems, fmt.Sprintf("terminal state %s has outgoing edges", s))
			}
			continue
		}
		if len(edges) == 0 {
			problems = append(problems, fmt.Sprintf("state %s has no outgoing edges", s))
			continue
		}
		if edges[Exhausted] != purchase.StateFailed || edges[Abort] != purchase.StateFailed {
			problems = append(problems, fmt.Sprintf("state %s does not fail on exhausted and fatal", s))
		}
	}
	for s, edges := range t {
		for sig, next := range edges {
			if !s.Before(next) {
				problems = append(problems, fmt.Sprintf("%s --%s--> %s moves backwards", s, sig, next))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid transition table: %s", strings.Join(problems, "; "))
	}
	return nil
}
