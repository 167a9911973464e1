package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/dropcart/internal/purchase"
)

// TraceSnapshot captures the deterministic part of a scenario execution.
//
// It renders as canonical JSON lines: a header naming the scenario, one
// line per trace event, and a closing summary of the outcome.
type TraceSnapshot struct {
	ScenarioName string
	RequestID    string
	Trace        []TraceEvent
	Outcome      purchase.Outcome
}

// Render returns the snapshot bytes compared against golden files.
func (s *TraceSnapshot) Render() ([]byte, error) {
	var buf bytes.Buffer
	write := func(v map[string]any) error {
		line, err := purchase.MarshalCanonical(v)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
		return nil
	}

	header := map[string]any{"scenario_name": s.ScenarioName}
	if s.RequestID != "" {
		header["request_id"] = s.RequestID
	}
	if err := write(header); err != nil {
		return nil, err
	}

	for i, ev := range s.Trace {
		if err := write(eventMap(ev)); err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
	}

	if err := write(summaryMap(s.Outcome)); err != nil {
		return nil, fmt.Errorf("outcome: %w", err)
	}
	return buf.Bytes(), nil
}

func eventMap(ev TraceEvent) map[string]any {
	m := map[string]any{
		"seq":  ev.Seq,
		"kind": string(ev.Kind),
	}
	if ev.State != "" {
		m["state"] = ev.State
	}
	if ev.Attempt != 0 {
		m["attempt"] = ev.Attempt
	}
	if ev.Outcome != "" {
		m["outcome"] = ev.Outcome
	}
	if ev.Detail != "" {
		m["detail"] = ev.Detail
	}
	if ev.Artifact != "" {
		m["artifact"] = ev.Artifact
	}
	return m
}

func summaryMap(out purchase.Outcome) map[string]any {
	m := map[string]any{
		"status":    string(out.Status),
		"reason":    out.Reason,
		"message":   out.Message,
		"simulated": out.Simulated,
		"states":    stateNames(out.States),
	}
	if out.Decision != nil {
		m["decision"] = string(out.Decision.Reason)
	}
	if out.OrderRef != "" {
		m["order_ref"] = out.OrderRef
	}
	if out.Artifact != "" {
		m["artifact"] = out.Artifact
	}
	if out.Snapshot != "" {
		m["snapshot"] = out.Snapshot
	}
	return m
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, scenario.RequestID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file for
// scenarioName without re-running it.
func AssertGolden(t *testing.T, scenarioName, requestID string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		RequestID:    requestID,
		Trace:        result.Trace,
		Outcome:      result.Outcome,
	}
	data, err := snapshot.Render()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
