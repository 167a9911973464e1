// Package events is the outbound notification channel of the purchase
// pipeline: a broadcaster with explicit subscriptions and a bounded history
// for late joiners.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindRequestQueued        Kind = "request_queued"
	KindRequestStarted       Kind = "request_started"
	KindStateChange          Kind = "state_change"
	KindAttempt              Kind = "attempt"
	KindConfirmationRequired Kind = "confirmation_required"
	KindOrderPlaced          Kind = "order_placed"
	KindRequestFinished      Kind = "request_finished"
	KindWorkerPaused         Kind = "worker_paused"
	KindWorkerResumed        Kind = "worker_resumed"
	KindWorkerError          Kind = "worker_error"
)

// Event is one notification. Seq and Timestamp are assigned by the Bus.
type Event struct {
	Seq       int64     `json:"seq"`
	Kind      Kind      `json:"kind"`
	RequestID string    `json:"request_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// Bus fans events out to subscribers. A subscriber whose buffer is full is
// evicted and its channel closed; publishers never wait on a reader.
type Bus struct {
	seq         Sequencer
	now         func() time.Time
	historySize int
	bufferSize  int

	mu      sync.Mutex
	subs    map[int]*Subscription
	nextID  int
	history []Event
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHistory sets how many recent events are retained.
func WithHistory(n int) BusOption {
	return func(b *Bus) { b.historySize = n }
}

// WithBuffer sets each subscriber's channel capacity.
func WithBuffer(n int) BusOption {
	return func(b *Bus) { b.bufferSize = n }
}

// WithSequencer replaces the logical clock.
func WithSequencer(s Sequencer) BusOption {
	return func(b *Bus) { b.seq = s }
}

// WithNow replaces the wall clock used for timestamps.
func WithNow(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus creates a bus keeping 100 events of history with 100-event
// subscriber buffers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		seq:         NewClock(),
		now:         time.Now,
		historySize: 100,
		bufferSize:  100,
		subs:        make(map[int]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps ev and delivers it to every subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev.Seq = b.seq.Next()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	if b.historySize > 0 {
		b.history = append(b.history, ev)
		if over := len(b.history) - b.historySize; over > 0 {
			copy(b.history, b.history[over:])
			b.history = b.history[:b.historySize]
		}
	}

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("evicting slow event subscriber", "subscriber", id, "seq", ev.Seq)
			delete(b.subs, id)
			close(sub.ch)
		}
	}

	slog.Debug("event",
		"seq", ev.Seq,
		"kind", string(ev.Kind),
		"request_id", ev.RequestID,
		"state", ev.State,
		"detail", ev.Detail,
	)
}

// Subscribe registers a new subscriber. Call Close when done.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		bus: b,
		id:  b.nextID,
		ch:  make(chan Event, b.bufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// History returns up to limit of the most recent events, oldest first.
// A limit of zero or less returns everything retained.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscription receives events on C until closed or evicted.
type Subscription struct {
	bus *Bus
	id  int
	ch  chan Event
}

// C is closed when the subscription ends for any reason.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once and after eviction.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}
