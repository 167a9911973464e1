package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcart/internal/driver"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/testutil"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var sleeper testutil.Sleeper
	var tries []Try
	calls := 0

	v, err := Retry(context.Background(), Policy{Attempts: 3, Delay: time.Second}, Classify, sleeper.Sleep,
		func(t Try) { tries = append(tries, t) },
		func(_ context.Context, attempt int) (string, error) {
			calls++
			if attempt < 3 {
				return "", driver.ErrTimeout
			}
			return "done", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.Delays())
	require.Len(t, tries, 3)
	assert.True(t, tries[0].Retrying)
	assert.True(t, tries[1].Retrying)
	assert.NoError(t, tries[2].Err)
}

func TestRetry_Exhaustion(t *testing.T) {
	var sleeper testutil.Sleeper
	_, err := Retry(context.Background(), Policy{Attempts: 2}, nil, sleeper.Sleep, nil,
		func(context.Context, int) (int, error) {
			return 0, driver.Wrap("click", "#x", driver.ErrStale)
		})

	var ee *ExhaustedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.Attempts)
	assert.ErrorIs(t, err, driver.ErrStale)
	assert.Len(t, sleeper.Delays(), 1)
}

func TestRetry_TerminalStopsImmediately(t *testing.T) {
	calls := 0
	rejection := &RejectionError{Decision: purchase.Reject(purchase.ReasonNoOffers, 0)}

	_, err := Retry(context.Background(), Policy{Attempts: 5}, nil, nil, nil,
		func(context.Context, int) (struct{}, error) {
			calls++
			return struct{}{}, rejection
		})

	assert.Same(t, rejection, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsExhausted(err))
}

func TestRetry_FatalStopsImmediately(t *testing.T) {
	calls := 0
	var last Try
	_, err := Retry(context.Background(), Policy{Attempts: 5}, nil, nil,
		func(t Try) { last = t },
		func(context.Context, int) (struct{}, error) {
			calls++
			return struct{}{}, driver.ErrSessionClosed
		})

	assert.ErrorIs(t, err, driver.ErrSessionClosed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Fatal, last.Class)
	assert.False(t, last.Retrying)
}

func TestRetry_InterruptedSleepIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Retry(ctx, Policy{Attempts: 3, Delay: time.Hour}, nil, nil, nil,
		func(context.Context, int) (struct{}, error) {
			calls++
			cancel()
			return struct{}{}, driver.ErrTimeout
		})

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), Policy{}, nil, nil, nil,
		func(context.Context, int) (struct{}, error) {
			calls++
			return struct{}{}, errors.New("flaky")
		})

	assert.True(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"timeout", driver.Wrap("wait", "#a", driver.ErrTimeout), Transient},
		{"not found", driver.ErrNotFound, Transient},
		{"stale", driver.ErrStale, Transient},
		{"unknown", errors.New("boom"), Transient},
		{"rejection", &RejectionError{}, Terminal},
		{"session closed", driver.Wrap("click", "#a", driver.ErrSessionClosed), Fatal},
		{"fatal", &FatalError{Detail: "x"}, Fatal},
		{"canceled", context.Canceled, Fatal},
		{"deadline", context.DeadlineExceeded, Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrors_Render(t *testing.T) {
	r := &RejectionError{Decision: purchase.Reject(purchase.ReasonPriceExceeded, 1)}
	assert.Equal(t, "rejected (price-exceeded)", r.Error())

	f := &FatalError{Detail: "session_closed", Err: driver.ErrSessionClosed}
	assert.Equal(t, "fatal: session_closed: driver: session closed", f.Error())
	assert.True(t, IsFatal(f))
	assert.False(t, IsRejection(f))
}
