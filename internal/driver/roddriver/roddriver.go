// Package roddriver implements driver.Driver on go-rod with the stealth
// plugin, reusing a persistent browser profile so the shopping session
// (login, address, payment) survives restarts.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/roach88/dropcart/internal/driver"
)

// Options configures the browser session.
type Options struct {
	// ControlURL connects to an already running browser instead of
	// launching one.
	ControlURL   string
	ProfileDir   string
	ArtifactsDir string
	Headless     bool

	// NavigationTimeout bounds Navigate including the load event.
	NavigationTimeout time.Duration

	// PollInterval is how often waits re-check the page.
	PollInterval time.Duration
}

// Driver drives one browser tab. Only one flow uses it at a time; the
// mutex guards page replacement on Reset, not concurrent flows.
type Driver struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser

	mu   sync.Mutex
	page *rod.Page
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Resetter = (*Driver)(nil)
)

// Launch starts (or attaches to) a browser and returns a Driver.
func Launch(ctx context.Context, opts Options) (*Driver, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 150 * time.Millisecond
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}

	d := &Driver{opts: opts}
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless).Leakless(true)
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if d.launcher != nil {
			d.launcher.Cleanup()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	d.browser = browser

	slog.Info("browser session ready",
		"control_url", controlURL,
		"profile", opts.ProfileDir,
		"headless", opts.Headless,
	)
	return d, nil
}

// Close shuts the browser down.
func (d *Driver) Close() error {
	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
	return err
}

// currentPage returns the tab, opening a stealth page on first use.
func (d *Driver) currentPage(ctx context.Context) (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		p, err := stealth.Page(d.browser)
		if err != nil {
			return nil, mapError("open page", "", err)
		}
		d.page = p
	}
	return d.page.Context(ctx), nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	page, err := d.currentPage(ctx)
	if err != nil {
		return err
	}
	page = page.Timeout(d.opts.NavigationTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return mapError("navigate", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return mapError("navigate", url, err)
	}
	return nil
}

func (d *Driver) Locate(ctx context.Context, selector string, scope driver.Element) ([]driver.Element, error) {
	var (
		found rod.Elements
		err   error
	)
	if scope != nil {
		el, uerr := unwrap(scope)
		if uerr != nil {
			return nil, driver.Wrap("locate", selector, uerr)
		}
		found, err = el.Context(ctx).Elements(selector)
	} else {
		page, perr := d.currentPage(ctx)
		if perr != nil {
			return nil, perr
		}
		found, err = page.Elements(selector)
	}
	if err != nil {
		return nil, mapError("locate", selector, err)
	}

	out := make([]driver.Element, 0, len(found))
	for _, el := range found {
		out = append(out, &element{el: el, selector: selector})
	}
	return out, nil
}

func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	e, err := unwrap(el)
	if err != nil {
		return driver.Wrap("click", "", err)
	}
	if err := e.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return mapError("click", el.Handle(), err)
	}
	return nil
}

func (d *Driver) ReadText(ctx context.Context, el driver.Element) (string, error) {
	e, err := unwrap(el)
	if err != nil {
		return "", driver.Wrap("read", "", err)
	}
	text, err := e.Context(ctx).Text()
	if err != nil {
		return "", mapError("read", el.Handle(), err)
	}
	return text, nil
}

func (d *Driver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return d.poll(ctx, "wait visible", selector, timeout, func(page *rod.Page) (bool, error) {
		els, err := page.Elements(selector)
		if err != nil {
			return false, err
		}
		for _, el := range els {
			if ok, err := el.Visible(); err == nil && ok {
				return true, nil
			}
		}
		return false, nil
	})
}

func (d *Driver) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	return d.poll(ctx, "wait hidden", selector, timeout, func(page *rod.Page) (bool, error) {
		els, err := page.Elements(selector)
		if err != nil {
			return false, err
		}
		for _, el := range els {
			if ok, err := el.Visible(); err == nil && ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// poll re-evaluates cond until it holds, the timeout elapses or ctx ends.
func (d *Driver) poll(ctx context.Context, op, selector string, timeout time.Duration, cond func(*rod.Page) (bool, error)) error {
	page, err := d.currentPage(ctx)
	if err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(d.opts.PollInterval)
	defer tick.Stop()

	for {
		ok, err := cond(page)
		if err != nil {
			return mapError(op, selector, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return driver.Wrap(op, selector, driver.ErrTimeout)
		case <-tick.C:
		}
	}
}

func (d *Driver) CaptureArtifact(ctx context.Context, kind string) (string, error) {
	page, err := d.currentPage(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.opts.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts dir: %w", err)
	}

	var (
		data []byte
		ext  string
	)
	switch kind {
	case driver.ArtifactHTML:
		html, herr := page.HTML()
		data, err, ext = []byte(html), herr, "html"
	default:
		data, err = page.Screenshot(true, nil)
		ext = "png"
	}
	if err != nil {
		return "", mapError("capture "+kind, "", err)
	}

	name := fmt.Sprintf("%s-%s.%s", time.Now().UTC().Format("20060102T150405.000"), kind, ext)
	path := filepath.Join(d.opts.ArtifactsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// Reset closes the tab; the next operation opens a fresh one.
func (d *Driver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.page == nil {
		return nil
	}
	err := d.page.Close()
	d.page = nil
	if err != nil {
		return mapError("reset", "", err)
	}
	return nil
}

type element struct {
	el       *rod.Element
	selector string
}

func (e *element) Handle() string {
	return fmt.Sprintf("%s/%s", e.selector, e.el.Object.ObjectID)
}

func unwrap(el driver.Element) (*rod.Element, error) {
	e, ok := el.(*element)
	if !ok {
		return nil, fmt.Errorf("foreign element %T", el)
	}
	return e.el, nil
}

// mapError folds go-rod and CDP failures into the driver error taxonomy.
func mapError(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return driver.Wrap(op, selector, fmt.Errorf("%w: %w", driver.ErrTimeout, err))
	}

	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return driver.Wrap(op, selector, fmt.Errorf("%w: %w", driver.ErrNotFound, err))
	}
	var gone *rod.ObjectNotFoundError
	if errors.As(err, &gone) {
		return driver.Wrap(op, selector, fmt.Errorf("%w: %w", driver.ErrStale, err))
	}
	var nav *rod.NavigationError
	if errors.As(err, &nav) {
		return driver.Wrap(op, selector, fmt.Errorf("%w: %w", driver.ErrTimeout, err))
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "target closed") || strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "use of closed network connection") {
		return driver.Wrap(op, selector, fmt.Errorf("%w: %w", driver.ErrSessionClosed, err))
	}
	return driver.Wrap(op, selector, err)
}
