package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/dropcart/internal/driver/drivertest"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/store"
	"github.com/roach88/dropcart/internal/storefront"
)

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	// Locators resolves driver_calls fields to call targets.
	Locators *locator.Map
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", ev.Seq, ev.Kind)
			if ev.State != "" {
				fmt.Fprintf(&buf, " %s", ev.State)
			}
			if ev.Attempt > 0 {
				fmt.Fprintf(&buf, " #%d", ev.Attempt)
			}
			if ev.Outcome != "" {
				fmt.Fprintf(&buf, " %s", ev.Outcome)
			}
			if ev.Detail != "" {
				fmt.Fprintf(&buf, " (%s)", ev.Detail)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertDriverCalls:
			err = assertDriverCalls(result.Calls, a, actx)
		case AssertActivity:
			err = assertActivity(result.Activity, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// matches reports whether ev satisfies the non-empty selectors of a.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Kind != events.Kind(a.Kind) {
		return false
	}
	if a.State != "" && ev.State != a.State {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	if a.Detail != "" && !strings.Contains(ev.Detail, a.Detail) {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{a.Kind}
	if a.State != "" {
		parts = append(parts, "state="+a.State)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome="+a.Outcome)
	}
	if a.Detail != "" {
		parts = append(parts, fmt.Sprintf("detail~%q", a.Detail))
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that some event matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed states were entered in order.
// Other states may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Kind != events.KindStateChange {
			continue
		}
		if _, seen := positions[ev.State]; !seen {
			positions[ev.State] = i + 1
		}
	}

	for _, state := range a.States {
		if positions[state] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all states entered: %v", a.States),
				Actual:   fmt.Sprintf("state never entered: %s", state),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.States); i++ {
		prev, curr := a.States[i-1], a.States[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("states in order: %v", a.States),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertDriverCalls checks how often the page saw op on a field or URL.
func assertDriverCalls(calls []drivertest.Call, a Assertion, actx *AssertionContext) error {
	target := a.URL
	if a.Op != drivertest.OpNavigate {
		if actx == nil || actx.Locators == nil {
			return fmt.Errorf("driver_calls needs a locator map")
		}
		t, err := storefront.Target(actx.Locators, a.Op, a.Field)
		if err != nil {
			return err
		}
		target = t
	}

	count := 0
	for _, c := range calls {
		if c.Op == a.Op && (target == "" || c.Target == target) {
			count++
		}
	}
	if count != a.Count {
		what := a.Field
		if a.Op == drivertest.OpNavigate {
			what = a.URL
		}
		return &AssertionError{
			Type:     AssertDriverCalls,
			Expected: fmt.Sprintf("%d %s calls on %s", a.Count, a.Op, what),
			Actual:   fmt.Sprintf("%d calls", count),
		}
	}
	return nil
}

// assertActivity compares stored activity columns with subset semantics.
// Values are compared by their printed form so YAML scalars and lists
// match Go values.
func assertActivity(a *store.Activity, want Assertion) error {
	if a == nil {
		return &AssertionError{
			Type:     AssertActivity,
			Expected: "a recorded activity",
			Actual:   "no activity recorded",
		}
	}
	got := activityFields(a)

	keys := make([]string, 0, len(want.Expect))
	for k := range want.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		actual, ok := got[k]
		if !ok {
			return fmt.Errorf("activity has no field %q", k)
		}
		expected := want.Expect[k]
		if fmt.Sprint(expected) != fmt.Sprint(actual) {
			return &AssertionError{
				Type:     AssertActivity,
				Expected: fmt.Sprintf("%s = %v", k, expected),
				Actual:   fmt.Sprintf("%s = %v", k, actual),
			}
		}
	}
	return nil
}

func activityFields(a *store.Activity) map[string]any {
	decision := ""
	if a.Decision != nil {
		decision = string(a.Decision.Reason)
	}
	return map[string]any{
		"request_id":        a.RequestID,
		"url":               a.URL,
		"product":           a.Product,
		"source_message_id": a.SourceMessageID,
		"status":            string(a.Status),
		"reason":            a.Reason,
		"message":           a.Message,
		"simulated":         a.Simulated,
		"order_ref":         a.OrderRef,
		"artifact":          a.Artifact,
		"snapshot":          a.Snapshot,
		"decision":          decision,
		"states":            stateNames(a.States),
		"attempts":          len(a.Attempts),
	}
}
