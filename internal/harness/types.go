package harness

import (
	"github.com/roach88/dropcart/internal/driver/drivertest"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
)

// TraceEvent is one published event with the wall-clock fields dropped.
type TraceEvent struct {
	Seq      int64       `json:"seq"`
	Kind     events.Kind `json:"kind"`
	State    string      `json:"state,omitempty"`
	Attempt  int         `json:"attempt,omitempty"`
	Outcome  string      `json:"outcome,omitempty"`
	Detail   string      `json:"detail,omitempty"`
	Artifact string      `json:"artifact,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every event the flow published, in order.
	Trace []TraceEvent `json:"trace"`

	// Outcome is what the flow returned.
	Outcome purchase.Outcome `json:"outcome"`

	// Activity is the row the store recorded for the request.
	Activity *store.Activity `json:"activity,omitempty"`

	// Calls is every driver operation the flow made.
	Calls []drivertest.Call `json:"-"`

	// Orders counts how often the storefront saw the order placed.
	Orders int `json:"orders"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends a bus event to the trace.
func (r *Result) AddEvent(ev events.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:      ev.Seq,
		Kind:     ev.Kind,
		State:    ev.State,
		Attempt:  ev.Attempt,
		Outcome:  ev.Outcome,
		Detail:   ev.Detail,
		Artifact: ev.Artifact,
	})
}
