package testutil

import (
	"context"
	"sync"
	"time"
)

// Sleeper records requested delays instead of sleeping. It still honours
// context cancellation.
type Sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns immediately.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

// Delays returns every recorded delay in order.
func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// Total returns the sum of recorded delays.
func (s *Sleeper) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Delays() {
		total += d
	}
	return total
}
