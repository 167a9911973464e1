package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestBus_DeliversInOrderWithSeq(t *testing.T) {
	bus := NewBus(WithNow(fixedNow))
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(Event{Kind: KindRequestQueued, RequestID: "r1"})
	bus.Publish(Event{Kind: KindRequestStarted, RequestID: "r1"})

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, KindRequestQueued, first.Kind)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, fixedNow(), second.Timestamp)
}

func TestBus_HistoryIsBounded(t *testing.T) {
	bus := NewBus(WithHistory(3))
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindAttempt, Attempt: i})
	}

	h := bus.History(0)
	require.Len(t, h, 3)
	assert.Equal(t, 2, h[0].Attempt)
	assert.Equal(t, 4, h[2].Attempt)

	last := bus.History(1)
	require.Len(t, last, 1)
	assert.Equal(t, int64(5), last[0].Seq)
}

func TestBus_EvictsSlowSubscriber(t *testing.T) {
	bus := NewBus(WithBuffer(1))
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	bus.Publish(Event{Kind: KindAttempt})
	<-fast.C()
	bus.Publish(Event{Kind: KindAttempt})

	assert.Equal(t, 1, bus.Subscribers())

	// The slow subscriber still drains what it had, then sees the close.
	_, ok := <-slow.C()
	assert.True(t, ok)
	_, ok = <-slow.C()
	assert.False(t, ok)

	slow.Close()
	fast.Close()
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := NewBus(WithHistory(1000), WithBuffer(1000))
	sub := bus.Subscribe()
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(Event{Kind: KindAttempt})
			}
		}()
	}
	wg.Wait()

	var last int64
	for i := 0; i < 500; i++ {
		ev := <-sub.C()
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
}

func TestClock(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(41), c.Current())
	assert.Equal(t, int64(42), c.Next())
	assert.Equal(t, int64(42), c.Current())
}
