package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/dropcart/internal/api"
	"github.com/roach88/dropcart/internal/config"
	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/driver/roddriver"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/flow"
	"github.com/roach88/dropcart/internal/locator"
	"github.com/roach88/dropcart/internal/offer"
	"github.com/roach88/dropcart/internal/session"
	"github.com/roach88/dropcart/internal/store"
	"github.com/roach88/dropcart/internal/worker"
)

// Browser is the automation session the run command owns.
type Browser interface {
	driver.Driver
	driver.Resetter
	Close() error
}

// BrowserLauncher starts the browser session for cfg.
type BrowserLauncher func(ctx context.Context, cfg config.App) (Browser, error)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigOptions

	Listen   string
	Database string
	Origins  []string

	// Launch overrides the browser start-up (for testing). If nil, a go-rod
	// browser is launched.
	Launch BrowserLauncher
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the purchase worker and control API",
		Long: `Start the purchase worker and its HTTP control API.

Configuration is resolved from defaults, the --config YAML file, the
dotenv file and the environment, in that order. The browser session is
launched (or attached to with BROWSER_CONTROL_URL), the activity database
is opened, and requests posted to /actions/trigger are processed one at a
time until the process receives SIGINT or SIGTERM.

With REDIS_ADDRESS set, the browser session is guarded by a Redis lock so
several processes can share one profile.

Example:
  dropcart run --config ./dropcart.yaml
  dropcart run --listen :9090 --db /var/lib/dropcart/activity.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	addConfigFlags(cmd, &opts.ConfigOptions)
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "control API address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides DATABASE_PATH)")
	cmd.Flags().StringSliceVar(&opts.Origins, "allow-origin", nil, "CORS origins allowed on the control API (default all)")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := opts.ConfigOptions.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	launch := opts.Launch
	if launch == nil {
		launch = launchRod
	}

	svc, err := newService(ctx, cfg, launch, opts.Origins)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer svc.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "dropcart listening on %s\n", cfg.ListenAddr)
	if err := svc.Serve(ctx, cfg.ListenAddr); err != nil {
		return WrapExitError(ExitFailure, "service error", err)
	}
	slog.Info("dropcart stopped gracefully")
	return nil
}

// service is a fully wired process: browser, store, event bus,
// confirmation registry, worker and API.
type service struct {
	cfg     config.App
	browser Browser
	store   *store.Store
	bus     *events.Bus
	gate    *confirm.Registry
	worker  *worker.Worker
	api     *api.Server
	ready   atomic.Bool

	closers []func() error
}

func newService(ctx context.Context, cfg config.App, launch BrowserLauncher, origins []string) (*service, error) {
	svc := &service{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	var err error
	loc := locator.Default()
	if cfg.LocatorsFile != "" {
		loc, err = locator.LoadFile(cfg.LocatorsFile)
		if err != nil {
			return nil, fmt.Errorf("load locators: %w", err)
		}
		slog.Info("locators loaded", "path", cfg.LocatorsFile)
	}

	slog.Info("opening database", "path", cfg.DatabasePath)
	svc.store, err = store.Open(cfg.DatabasePath, store.WithRetention(cfg.MaxActivityItems))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	svc.closers = append(svc.closers, svc.store.Close)

	lease, err := newLease(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}

	svc.browser, err = launch(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	svc.closers = append(svc.closers, svc.browser.Close)

	svc.bus = events.NewBus()
	svc.gate = confirm.NewRegistry()

	f := flow.New(svc.browser, loc, offer.NewSelector(offer.DefaultPolicy()), cfg.Worker,
		flow.WithEvents(svc.bus),
		flow.WithGate(svc.gate),
	)
	svc.worker = worker.New(f,
		worker.WithEvents(svc.bus),
		worker.WithRecorder(svc.store),
		worker.WithConfirmer(svc.gate),
		worker.WithLease(lease),
		worker.WithResetter(svc.browser),
		worker.WithMaxQueueDepth(cfg.MaxQueueDepth),
	)

	apiOpts := []api.Option{
		api.WithActivity(svc.store),
		api.WithReady(svc.ready.Load),
	}
	if len(origins) > 0 {
		apiOpts = append(apiOpts, api.WithAllowedOrigins(origins...))
	}
	svc.api = api.New(svc.worker, svc.bus, apiOpts...)

	slog.Info("dropcart configured",
		"dry_run", cfg.Worker.DryRun,
		"confirm_final_order", cfg.Worker.ConfirmFinalOrder,
		"fast_checkout", cfg.Worker.FastCheckout,
		"max_retries", cfg.Worker.MaxRetries,
		"max_queue_depth", cfg.MaxQueueDepth,
	)
	ok = true
	return svc, nil
}

// newLease picks the Redis lock when an address is configured.
func newLease(ctx context.Context, cfg config.App, svc *service) (session.Lease, error) {
	if cfg.RedisAddress == "" {
		return session.NewLocal(), nil
	}
	client, err := session.Dial(ctx, cfg.RedisAddress)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, client.Close)
	slog.Info("session guarded by redis", "addr", cfg.RedisAddress, "key", cfg.SessionKey)
	return session.NewRedis(client, cfg.SessionKey), nil
}

// Serve runs the worker and the API until ctx is done or the API fails to
// listen.
func (s *service) Serve(ctx context.Context, addr string) error {
	var wg sync.WaitGroup
	workerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		workerErr <- s.worker.Run(ctx)
	}()
	s.ready.Store(true)

	apiErr := s.api.ListenAndServe(ctx, addr)
	s.ready.Store(false)
	s.worker.Close()
	wg.Wait()

	if apiErr != nil {
		return fmt.Errorf("control api: %w", apiErr)
	}
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

// Close releases everything newService opened, newest first.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}
	s.closers = nil
}

func launchRod(ctx context.Context, cfg config.App) (Browser, error) {
	d, err := roddriver.Launch(ctx, roddriver.Options{
		ControlURL:        cfg.BrowserControlURL,
		ProfileDir:        cfg.ProfileDir,
		ArtifactsDir:      cfg.ArtifactsDir,
		Headless:          cfg.Headless,
		NavigationTimeout: cfg.Worker.Timeouts.PageLoad,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
