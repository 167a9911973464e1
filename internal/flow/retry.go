package flow

import (
	"context"
	"time"
)

// Policy bounds Retry.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Delay separates consecutive tries.
	Delay time.Duration
}

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Try describes one finished attempt.
type Try struct {
	Number int
	Err    error
	Class  Class

	// Retrying is set when another attempt follows.
	Retrying bool
}

// Observer is told about every attempt, successful or not.
type Observer func(Try)

// Retry runs action until it succeeds, fails with a non-transient error, or
// the policy runs out. Exhaustion returns an *ExhaustedError wrapping the
// last failure; terminal and fatal errors are returned as they are. A
// failed sleep between attempts is returned as a FatalError.
func Retry[T any](ctx context.Context, p Policy, classify Classifier, sleep Sleeper, observe Observer, action func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if classify == nil {
		classify = Classify
	}
	if sleep == nil {
		sleep = Sleep
	}
	if observe == nil {
		observe = func(Try) {}
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	for n := 1; ; n++ {
		v, err := action(ctx, n)
		if err == nil {
			observe(Try{Number: n})
			return v, nil
		}

		class := classify(err)
		retrying := class == Transient && n < attempts
		observe(Try{Number: n, Err: err, Class: class, Retrying: retrying})

		switch {
		case class != Transient:
			return zero, err
		case !retrying:
			return zero, &ExhaustedError{Attempts: n, Err: err}
		}

		if serr := sleep(ctx, p.Delay); serr != nil {
			return zero, &FatalError{Detail: "interrupted", Err: serr}
		}
	}
}
