package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dropcart/internal/purchase"
)

// timeLayout keeps fractional seconds so rows written within one second
// still read back distinct.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// decisionRow is the stored shape of a decision snapshot.
type decisionRow struct {
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason"`
	Inspected int       `json:"inspected"`
	Offer     *offerRow `json:"offer,omitempty"`
}

type offerRow struct {
	Price     string `json:"price"`
	ShipsFrom string `json:"ships_from"`
	SoldBy    string `json:"sold_by"`
	Pinned    bool   `json:"pinned"`
	Position  int    `json:"position"`
}

// marshalDecision converts a decision to canonical JSON TEXT, or NULL when
// the flow never reached the offer selector.
func marshalDecision(d *purchase.Decision) (any, error) {
	if d == nil {
		return nil, nil
	}
	obj := map[string]any{
		"accepted":  d.Accepted,
		"reason":    string(d.Reason),
		"inspected": d.Inspected,
	}
	if d.Offer != nil {
		obj["offer"] = map[string]any{
			"price":      d.Offer.Price.String(),
			"ships_from": d.Offer.ShipsFrom,
			"sold_by":    d.Offer.SoldBy,
			"pinned":     d.Offer.Pinned,
			"position":   d.Offer.Position,
		}
	}
	data, err := purchase.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	return string(data), nil
}

func unmarshalDecision(data *string) (*purchase.Decision, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var row decisionRow
	if err := json.Unmarshal([]byte(*data), &row); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	d := &purchase.Decision{
		Accepted:  row.Accepted,
		Reason:    purchase.DecisionReason(row.Reason),
		Inspected: row.Inspected,
	}
	if row.Offer != nil {
		price, err := decimal.NewFromString(row.Offer.Price)
		if err != nil {
			return nil, fmt.Errorf("unmarshal decision price: %w", err)
		}
		d.Offer = &purchase.Offer{
			Price:     price,
			ShipsFrom: row.Offer.ShipsFrom,
			SoldBy:    row.Offer.SoldBy,
			Pinned:    row.Offer.Pinned,
			Position:  row.Offer.Position,
		}
	}
	return d, nil
}

// marshalStates stores the visited states by name.
func marshalStates(states []purchase.State) (string, error) {
	names := make([]any, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	data, err := purchase.MarshalCanonical(names)
	if err != nil {
		return "", fmt.Errorf("marshal states: %w", err)
	}
	return string(data), nil
}

func unmarshalStates(data string) ([]purchase.State, error) {
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal states: %w", err)
	}
	states := make([]purchase.State, 0, len(names))
	for _, name := range names {
		s, ok := purchase.ParseState(name)
		if !ok {
			return nil, fmt.Errorf("unmarshal states: unknown state %q", name)
		}
		states = append(states, s)
	}
	return states, nil
}
