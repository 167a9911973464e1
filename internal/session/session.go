// Package session guards the browser session. The worker holds a Lease for
// the whole of one request so no other flow, in this process or another one
// sharing the browser profile, touches the page meanwhile.
package session

import (
	"context"
	"errors"
)

// ErrBusy is returned when the session stays held by someone else for
// longer than the acquirer is willing to wait.
var ErrBusy = errors.New("session is held by another worker")

// Release gives a lease back.
type Release func(ctx context.Context) error

// Lease hands out exclusive use of the session.
type Lease interface {
	Acquire(ctx context.Context) (Release, error)
}

// Local is an in-process lease.
type Local struct {
	sem chan struct{}
}

// NewLocal returns a free local lease.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lease is free or ctx is done.
func (l *Local) Acquire(ctx context.Context) (Release, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	released := false
	return func(context.Context) error {
		if released {
			return nil
		}
		released = true
		<-l.sem
		return nil
	}, nil
}
