package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/config"
	"github.com/roach88/dropcart/internal/locator"
)

// Validation error codes not produced by the locator loader.
const (
	ErrCodeConfig  = "E_CONFIG"
	ErrCodeGeneric = "E_VALIDATE"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigOptions

	// Locators overrides LOCATORS_FILE.
	Locators string
}

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	Source  string `json:"source"` // "config" or "locators"
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	LocatorsFile string            `json:"locators_file,omitempty"`
	Fields       int               `json:"fields,omitempty"`
	Errors       []ValidationIssue `json:"errors,omitempty"`
}

// Text renders the result for humans.
func (r ValidationResult) Text(w io.Writer) {
	if !r.Valid {
		for _, e := range r.Errors {
			loc := e.Source
			if e.File != "" {
				loc = e.File
				if e.Line > 0 {
					loc = fmt.Sprintf("%s:%d", e.File, e.Line)
				}
			}
			fmt.Fprintf(w, "✗ %s: [%s] %s\n", loc, e.Code, e.Message)
		}
		return
	}
	fmt.Fprintln(w, "✓ Config valid")
	if r.LocatorsFile == "" {
		fmt.Fprintf(w, "✓ Locators: built-in defaults (%d fields)\n", r.Fields)
		return
	}
	fmt.Fprintf(w, "✓ Locators valid: %s (%d fields)\n", r.LocatorsFile, r.Fields)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and locator files",
		Long: `Validate the resolved configuration and the locator map without
launching a browser.

The configuration is resolved exactly as "dropcart run" does. The locator
file (--locators, or LOCATORS_FILE) is checked against the locator schema
and every field it names must be a known page field.

Examples:
  dropcart validate --config ./dropcart.yaml
  dropcart validate --locators ./locators.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	addConfigFlags(cmd, &opts.ConfigOptions)
	cmd.Flags().StringVar(&opts.Locators, "locators", "", "CUE locator file (overrides LOCATORS_FILE)")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result := ValidationResult{Valid: true}

	cfg, err := opts.ConfigOptions.Load()
	if err != nil {
		result.Errors = append(result.Errors, ValidationIssue{
			Source:  "config",
			Code:    ErrCodeConfig,
			Message: err.Error(),
			File:    opts.ConfigFile,
		})
		cfg = config.Default()
	} else {
		formatter.VerboseLog("Config resolved (listen %s, database %s)", cfg.ListenAddr, cfg.DatabasePath)
	}

	path := cfg.LocatorsFile
	if opts.Locators != "" {
		path = opts.Locators
	}
	result.LocatorsFile = path

	loc := locator.Default()
	if path != "" {
		formatter.VerboseLog("Loading locators from %s", path)
		loc, err = locator.LoadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, locatorIssue(path, err))
		}
	}
	if loc != nil {
		result.Fields = len(loc.Names())
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Success(result)
}

func locatorIssue(path string, err error) ValidationIssue {
	issue := ValidationIssue{Source: "locators", Code: ErrCodeGeneric, Message: err.Error(), File: path}
	var le *locator.LoadError
	if errors.As(err, &le) {
		issue.Code = le.Code
		issue.Message = le.Message
		if le.Pos.IsValid() {
			issue.Line = le.Pos.Line()
		}
	}
	return issue
}

// outputValidationErrors reports every issue. Invalid input is a failure
// (exit code 1), not a command error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	result.Valid = false
	first := result.Errors[0]

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		result.Text(formatter.Writer)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
}
