// Package driver declares the browser automation capabilities the purchase
// flow consumes, and the error taxonomy every implementation maps into.
//
// The flow never talks to a browser library directly. roddriver provides
// the production implementation; drivertest provides a scripted page for
// tests.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Element is an opaque handle returned by Locate. It is only meaningful to
// the Driver that produced it and may go stale after navigation.
type Element interface {
	Handle() string
}

// Driver is the automation surface used by the purchase flow.
//
// Locate returns every element matching selector, searched inside scope when
// scope is non-nil. It does not wait and returns an empty slice when nothing
// matches. Selectors may be CSS selector groups ("a, b").
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Locate(ctx context.Context, selector string, scope Element) ([]Element, error)
	Click(ctx context.Context, el Element) error
	ReadText(ctx context.Context, el Element) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	WaitHidden(ctx context.Context, selector string, timeout time.Duration) error
	CaptureArtifact(ctx context.Context, kind string) (string, error)
}

// Resetter is implemented by drivers that can discard per-request page state
// (for example by closing the tab) between requests.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Artifact kinds accepted by CaptureArtifact.
const (
	ArtifactScreenshot = "screenshot"
	ArtifactHTML       = "html"
)

var (
	// ErrTimeout means a wait elapsed before its condition held.
	ErrTimeout = errors.New("driver: timeout")

	// ErrNotFound means no element matched.
	ErrNotFound = errors.New("driver: element not found")

	// ErrStale means an element handle no longer refers to a live node.
	ErrStale = errors.New("driver: stale element")

	// ErrSessionClosed means the browser session is gone. It is never
	// recoverable within a request.
	ErrSessionClosed = errors.New("driver: session closed")
)

// Error records the operation and selector that failed.
type Error struct {
	Op       string
	Selector string
	Err      error
}

func (e *Error) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with op and selector. It returns nil for a nil err.
func Wrap(op, selector string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Selector: selector, Err: err}
}

// IsTransient reports whether err is one of the recoverable driver errors.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale)
}
