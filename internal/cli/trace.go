package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
)

// ErrCodeNotFound is reported when a request has no activity record.
const ErrCodeNotFound = "E_NOT_FOUND"

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	StoreOptions
	State string // optional - filter attempts to one state
}

// TraceResult is the recorded life of one request.
type TraceResult struct {
	store.Activity
	Stats TraceStats `json:"stats"`
}

// TraceStats summarizes the attempt log.
type TraceStats struct {
	Attempts int `json:"attempts"`
	Retries  int `json:"retries"`
	States   int `json:"states"`
}

// Text renders the request header, the state path and the attempt log.
func (r TraceResult) Text(w io.Writer) {
	a := r.Activity
	fmt.Fprintf(w, "Request %s (%s)\n", a.RequestID, a.RequestKey)
	fmt.Fprintf(w, "  Product:  %s\n", a.Product)
	fmt.Fprintf(w, "  URL:      %s\n", a.URL)
	if a.ExpectedPrice != nil {
		fmt.Fprintf(w, "  Price:    %s\n", a.ExpectedPrice.StringFixed(2))
	}
	fmt.Fprintf(w, "  Outcome:  %s %s\n", a.Status, a.Reason)
	if a.Message != "" {
		fmt.Fprintf(w, "  Message:  %s\n", a.Message)
	}
	if a.Simulated {
		fmt.Fprintln(w, "  Simulated: yes")
	}
	if a.OrderRef != "" {
		fmt.Fprintf(w, "  Order:    %s\n", a.OrderRef)
	}
	if d := a.Decision; d != nil {
		fmt.Fprintf(w, "  Decision: %s (%d inspected)", d.Reason, d.Inspected)
		if d.Offer != nil {
			fmt.Fprintf(w, " %s ships from %s, sold by %s", d.Offer.Price.StringFixed(2), d.Offer.ShipsFrom, d.Offer.SoldBy)
		}
		fmt.Fprintln(w)
	}
	if a.Artifact != "" {
		fmt.Fprintf(w, "  Artifact: %s\n", a.Artifact)
	}
	if a.Snapshot != "" {
		fmt.Fprintf(w, "  Snapshot: %s\n", a.Snapshot)
	}
	fmt.Fprintf(w, "  Elapsed:  %s\n", a.Elapsed())

	states := make([]string, len(a.States))
	for i, s := range a.States {
		states[i] = s.String()
	}
	fmt.Fprintf(w, "\nStates: %s\n", strings.Join(states, " -> "))

	fmt.Fprintln(w, "\nAttempts:")
	for _, at := range a.Attempts {
		fmt.Fprintf(w, "  %s  %-28s #%d %s", at.At.Local().Format("15:04:05.000"), at.State, at.Number, at.Outcome)
		if at.Error != "" {
			fmt.Fprintf(w, " (%s)", at.Error)
		}
		if at.Artifact != "" {
			fmt.Fprintf(w, " [%s]", at.Artifact)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d attempts, %d retries, %d states\n", r.Stats.Attempts, r.Stats.Retries, r.Stats.States)
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <request-id>",
		Short: "Show the recorded run of one request",
		Long: `Show the activity record of one request: its outcome, the offer
decision, the states it passed through and every attempt made in each
state.

Examples:
  dropcart trace 01929a3e-5c1b-7f00-8a2b-1c2d3e4f5a6b
  dropcart trace 01929a3e-5c1b-7f00-8a2b-1c2d3e4f5a6b --state AWAITING_CART_CONFIRMATION
  dropcart trace 01929a3e-5c1b-7f00-8a2b-1c2d3e4f5a6b --db ./dropcart.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)
	cmd.Flags().StringVar(&opts.State, "state", "", "only show attempts made in this state")

	return cmd
}

func runTrace(opts *TraceOptions, requestID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var filter purchase.State
	if opts.State != "" {
		parsed, ok := purchase.ParseState(opts.State)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown state %q", opts.State))
		}
		filter = parsed
	}

	st, err := opts.open()
	if err != nil {
		return err
	}
	defer st.Close()

	a, err := st.Get(cmd.Context(), requestID)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no activity for request %s", requestID), nil)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read activity", err)
	}

	return formatter.Success(buildTrace(a, filter))
}

// buildTrace computes stats over the full log and then keeps the attempts
// made in state. The zero state keeps everything.
func buildTrace(a store.Activity, state purchase.State) TraceResult {
	stats := TraceStats{Attempts: len(a.Attempts), States: len(a.States)}
	for _, at := range a.Attempts {
		if at.Outcome == purchase.AttemptRetry {
			stats.Retries++
		}
	}

	if state != 0 {
		kept := make([]purchase.Attempt, 0, len(a.Attempts))
		for _, at := range a.Attempts {
			if at.State == state {
				kept = append(kept, at)
			}
		}
		a.Attempts = kept
	}
	return TraceResult{Activity: a, Stats: stats}
}
