// Package flow drives one purchase request through the checkout sequence.
//
// A Flow is a table-driven state machine. Each state runs a step that
// reports a Signal (advance, bypass, reject, timeout, exhausted, fatal);
// the transition Table maps (state, signal) to the next state and the
// single loop in Run interprets it. Steps that talk to the page run inside
// Retry, which classifies every failure as transient, terminal or fatal
// before deciding whether to try again.
//
// Transitions only move forward. A state repeats only as an in-place retry,
// and the order placement step never repeats an action once the page shows
// evidence that the order went through.
package flow
