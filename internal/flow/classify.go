package flow

import (
	"context"
	"errors"

	"github.com/roach88/dropcart/internal/driver"
)

// Class is the retry classification of an error.
type Class int

const (
	// Transient failures are retried within the same state.
	Transient Class = iota

	// Terminal failures end the flow at once without retry.
	Terminal

	// Fatal failures abort the flow and capture a diagnostic artifact.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps an error to its Class.
type Classifier func(error) Class

// Classify is the default Classifier. Unknown errors are treated as
// transient so a flaky page gets its retry budget.
func Classify(err error) Class {
	switch {
	case IsFatal(err), errors.Is(err, driver.ErrSessionClosed):
		return Fatal
	case IsRejection(err):
		return Terminal
	case driver.IsTransient(err):
		return Transient
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Fatal
	default:
		return Transient
	}
}
