package flow

import (
	"errors"
	"fmt"

	"github.com/roach88/dropcart/internal/purchase"
)

// RejectionError is a business rejection of the request. It is terminal:
// retrying cannot change a correct decision.
type RejectionError struct {
	Decision purchase.Decision

	// Message overrides the default rendering of the decision.
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rejected (%s): %s", e.Decision.Reason, e.Message)
	}
	return fmt.Sprintf("rejected (%s)", e.Decision.Reason)
}

// FatalError aborts the flow regardless of the remaining retry budget.
type FatalError struct {
	// Detail is the short reason recorded as "fatal:<detail>".
	Detail string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Detail, e.Err)
	}
	return "fatal: " + e.Detail
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned by Retry when every attempt failed with a
// transient error. Err is the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsRejection returns true if err is or wraps a RejectionError.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsFatal returns true if err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsExhausted returns true if err is or wraps an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
