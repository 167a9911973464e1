package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
)

const defaultHistoryLimit = 20

// StoreOptions are the flags of commands that read the activity database.
type StoreOptions struct {
	ConfigOptions
	Database string
}

func addStoreFlags(cmd *cobra.Command, s *StoreOptions) {
	addConfigFlags(cmd, &s.ConfigOptions)
	cmd.Flags().StringVar(&s.Database, "db", "", "path to SQLite database (overrides DATABASE_PATH)")
}

// open opens an existing activity database. A missing file is a command
// error rather than a fresh empty store.
func (s *StoreOptions) open() (*store.Store, error) {
	path := s.Database
	if path == "" {
		cfg, err := s.ConfigOptions.Load()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		path = cfg.DatabasePath
	}
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	StoreOptions
	Limit int
}

// HistoryResult is the history command output.
type HistoryResult struct {
	Items []store.Activity `json:"items"`
	Total int              `json:"total"`
}

// Text renders one line per activity, newest first.
func (r HistoryResult) Text(w io.Writer) {
	if len(r.Items) == 0 {
		fmt.Fprintln(w, "No activity recorded.")
		return
	}
	for _, a := range r.Items {
		mark := "✓"
		if a.Status != purchase.StatusCompleted {
			mark = "✗"
		}
		sim := ""
		if a.Simulated {
			sim = " (simulated)"
		}
		fmt.Fprintf(w, "%s %s  %s  %-9s %s%s\n",
			mark, a.FinishedAt.Local().Format(time.DateTime), a.RequestID, a.Status, a.Reason, sim)
		fmt.Fprintf(w, "    %s  %s\n", a.Product, a.URL)
	}
	fmt.Fprintf(w, "\nShowing %d of %d\n", len(r.Items), r.Total)
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded purchase activity",
		Long: `List the most recent request outcomes from the activity database,
newest first.

Examples:
  dropcart history --db ./dropcart.db
  dropcart history --limit 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", defaultHistoryLimit, "maximum number of entries (0 for all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	items, err := st.History(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	total, err := st.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count activity", err)
	}
	formatter.VerboseLog("Read %d of %d activity records", len(items), total)

	return formatter.Success(HistoryResult{Items: items, Total: total})
}
