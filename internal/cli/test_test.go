package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// copyScenario copies one harness scenario into a fresh directory.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(harnessScenarios, name+".yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0644))
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := runTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandInvalidScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [unclosed"), 0644))

	_, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenarios")
}

func TestTestCommandHarnessSuite(t *testing.T) {
	entries, err := os.ReadDir(harnessScenarios)
	require.NoError(t, err)

	out, err := runTestCmd(t, "json", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, len(entries), resp.Data.Total)
	assert.Equal(t, len(entries), resp.Data.Passed)
	assert.Zero(t, resp.Data.Failed)
}

func TestTestCommandFilter(t *testing.T) {
	out, err := runTestCmd(t, "text", harnessScenarios, "--golden", harnessGolden, "--filter", "scenario_*")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ scenario_a_pinned_valid (COMPLETED order_placed)")
	assert.Contains(t, out, "✓ scenario_d_price_exceeded (FAILED ")
	assert.NotContains(t, out, "dry_run_confirmed")
	assert.Contains(t, out, "Test Summary: 5 passed, 0 failed, 5 total")

	_, err = runTestCmd(t, "text", harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestTestCommandUpdateGolden(t *testing.T) {
	dir := copyScenario(t, "scenario_d_price_exceeded")
	goldenPath := filepath.Join(dir, "golden", "scenario_d_price_exceeded.golden")

	_, err := runTestCmd(t, "text", dir, "--update")
	require.NoError(t, err)
	written, err := os.ReadFile(goldenPath)
	require.NoError(t, err)

	want, err := os.ReadFile(filepath.Join(harnessGolden, "scenario_d_price_exceeded.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	out, err := runTestCmd(t, "text", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := copyScenario(t, "scenario_a_pinned_valid")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "scenario_a_pinned_valid.golden"), []byte("stale\n"), 0644))

	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ scenario_a_pinned_valid")
	assert.Contains(t, out, "trace does not match golden file")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_expectation
description: "Expects a completed purchase of an over-priced offer"
product:
  layout: dialog
  pinned: { price: "$50.00", ships_from: Amazon.com, sold_by: Amazon.com }
request:
  price: "20.00"
expect:
  status: COMPLETED
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(scenario), 0644))

	out, err := runTestCmd(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	require.Len(t, resp.Data.Scenarios, 1)
	sr := resp.Data.Scenarios[0]
	assert.False(t, sr.Pass)
	assert.Equal(t, "FAILED", sr.Status)
	assert.NotEmpty(t, sr.Errors)
}
