package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
	Golden string // golden directory; defaults to <scenarios>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Status string   `json:"status,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run purchase scenarios against scripted storefronts",
		Long: `Run scenario files through the real purchase flow against a scripted
storefront, checking expectations, assertions and, when a golden file
exists, the exact event trace.

<scenarios> is a scenario file or a directory of *.yaml / *.yml files.
Golden files live in <scenarios>/golden/<name>.golden unless --golden is
given.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  dropcart test ./scenarios
  dropcart test ./scenarios --filter "scenario_*"
  dropcart test ./scenarios --update
  dropcart test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by name (glob pattern)")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory")

	return cmd
}

func runTests(opts *TestOptions, path string, cmd *cobra.Command) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", path))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read scenarios", err)
	}

	goldenDir := opts.Golden
	if goldenDir == "" {
		base := path
		if !info.IsDir() {
			base = filepath.Dir(path)
		}
		goldenDir = filepath.Join(base, "golden")
	}

	scenarios, err := harness.LoadSuite(path)
	var notFound *harness.ScenarioNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
		kept := scenarios[:0]
		for _, s := range scenarios {
			if ok, _ := filepath.Match(opts.Filter, s.Name); ok {
				kept = append(kept, s)
			}
		}
		scenarios = kept
	}

	if len(scenarios) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarios)),
		Total:     len(scenarios),
	}
	for _, s := range scenarios {
		sr := runScenario(s, goldenDir, opts)
		if opts.Format != "json" {
			printScenario(cmd, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// runScenario executes one scenario and checks or rewrites its golden file.
func runScenario(s *harness.Scenario, goldenDir string, opts *TestOptions) ScenarioResult {
	sr := ScenarioResult{Name: s.Name}

	result, err := harness.Run(s)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Status = string(result.Outcome.Status)
	sr.Reason = result.Outcome.Reason
	sr.Errors = result.Errors

	snapshot := harness.TraceSnapshot{
		ScenarioName: s.Name,
		RequestID:    s.RequestID,
		Trace:        result.Trace,
		Outcome:      result.Outcome,
	}
	current, err := snapshot.Render()
	if err != nil {
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to render trace: %v", err))
		return sr
	}

	goldenPath := filepath.Join(goldenDir, s.Name+".golden")
	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0755); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return sr
		}
		if err := os.WriteFile(goldenPath, current, 0644); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			return sr
		}
	} else if golden, err := os.ReadFile(goldenPath); err == nil {
		if !bytes.Equal(golden, current) {
			sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
		}
	} else if !os.IsNotExist(err) {
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	}

	sr.Pass = len(sr.Errors) == 0
	return sr
}

func printScenario(cmd *cobra.Command, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		fmt.Fprintf(w, "✓ %s (%s %s)\n", sr.Name, sr.Status, sr.Reason)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
