package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/worker"
)

const (
	defaultServer = "http://localhost:8080"
	ctlTimeout    = 10 * time.Second
)

// Control error codes.
const (
	ErrCodeUnreachable = "E_UNREACHABLE"
	ErrCodeRejected    = "E_REJECTED"
)

// CtlOptions holds flags shared by the ctl subcommands.
type CtlOptions struct {
	*RootOptions
	Server string

	// Client overrides the HTTP client (for testing).
	Client *http.Client
}

// APIError is a non-2xx answer from the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// NewCtlCommand creates the ctl command and its subcommands.
func NewCtlCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CtlOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running dropcart service",
		Long: `Talk to the control API of a running "dropcart run".

Exit codes:
  0 - The service accepted the action
  1 - The service rejected the action (queue full, nothing to confirm, ...)
  2 - Command error (server unreachable, bad flags)`,
	}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", defaultServer, "control API base URL")

	cmd.AddCommand(newCtlStatusCommand(opts))
	cmd.AddCommand(newCtlPauseCommand(opts))
	cmd.AddCommand(newCtlResumeCommand(opts))
	cmd.AddCommand(newCtlTriggerCommand(opts))
	cmd.AddCommand(newCtlConfirmCommand(opts))

	return cmd
}

// StatusView renders a worker snapshot.
type StatusView worker.Status

// Text renders the snapshot for humans.
func (s StatusView) Text(w io.Writer) {
	fmt.Fprintf(w, "Worker:    %s\n", s.State)
	fmt.Fprintf(w, "Uptime:    %s\n", time.Duration(s.UptimeSeconds)*time.Second)
	if c := s.Current; c != nil {
		fmt.Fprintf(w, "Current:   %s %s\n", c.RequestID, c.URL)
	}
	fmt.Fprintf(w, "Queued:    %d\n", s.QueueDepth)
	for _, id := range s.Queued {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	if len(s.AwaitingConfirmation) > 0 {
		fmt.Fprintf(w, "Awaiting confirmation: %s\n", strings.Join(s.AwaitingConfirmation, ", "))
	}
	fmt.Fprintf(w, "Completed: %d  Failed: %d\n", s.Completed, s.Failed)
	if l := s.Last; l != nil {
		fmt.Fprintf(w, "Last:      %s %s %s\n", l.RequestID, l.Status, l.Reason)
	}
}

// ActionResult is the answer to pause, resume, trigger and confirm.
type ActionResult map[string]any

// Text prints the fields in a stable order.
func (r ActionResult) Text(w io.Writer) {
	for _, key := range []string{"status", "changed", "request_id", "key", "url", "message_id"} {
		if v, ok := r[key]; ok {
			fmt.Fprintf(w, "%s: %v\n", key, v)
		}
	}
}

func newCtlStatusCommand(opts *CtlOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the worker status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st StatusView
			return opts.do(cmd, http.MethodGet, "/status", nil, &st, func() any { return st })
		},
	}
}

func newCtlPauseCommand(opts *CtlOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pause",
		Short:         "Stop taking new requests after the current one",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.action(cmd, "/actions/pause", nil)
		},
	}
}

func newCtlResumeCommand(opts *CtlOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "resume",
		Short:         "Resume taking requests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.action(cmd, "/actions/resume", nil)
		},
	}
}

func newCtlTriggerCommand(opts *CtlOptions) *cobra.Command {
	var (
		in    purchase.Inbound
		price string
	)
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Queue a purchase request",
		Long: `Queue a purchase request on the running service.

Examples:
  dropcart ctl trigger --url https://www.amazon.com/dp/B0TESTITEM --price 19.99
  dropcart ctl trigger --url https://www.amazon.com/dp/B0TESTITEM --product "Widget" --message-id msg-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if price != "" {
				p, err := decimal.NewFromString(price)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --price", err)
				}
				in.Price = &p
			}
			return opts.action(cmd, "/actions/trigger", in)
		},
	}
	cmd.Flags().StringVar(&in.URL, "url", "", "product URL (required)")
	_ = cmd.MarkFlagRequired("url")
	cmd.Flags().StringVar(&price, "price", "", "expected price")
	cmd.Flags().StringVar(&in.Product, "product", "", "product name")
	cmd.Flags().StringVar(&in.MessageID, "message-id", "", "source message id")
	return cmd
}

func newCtlConfirmCommand(opts *CtlOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "confirm <request-id>",
		Short:         "Confirm the final order click of a waiting request",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.action(cmd, "/actions/confirm/"+url.PathEscape(args[0]), nil)
		},
	}
}

func (o *CtlOptions) action(cmd *cobra.Command, path string, body any) error {
	var res ActionResult
	return o.do(cmd, http.MethodPost, path, body, &res, func() any { return res })
}

// do sends one request and decodes the answer into out. view is called
// after decoding and returns the value to print.
func (o *CtlOptions) do(cmd *cobra.Command, method, path string, body, out any, view func() any) error {
	formatter := newFormatter(o.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()

	err := o.call(ctx, method, path, body, out)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return formatter.Fail(ExitFailure, ErrCodeRejected, apiErr.Message, apiErr)
	case err != nil:
		return formatter.Fail(ExitCommandError, ErrCodeUnreachable, fmt.Sprintf("cannot reach %s", o.Server), err)
	}
	return formatter.Success(view())
}

func (o *CtlOptions) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(o.Server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
