package worker

import (
	"time"

	"github.com/roach88/dropcart/internal/purchase"
)

// Worker states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// Current describes the in-flight request.
type Current struct {
	RequestID string    `json:"request_id"`
	URL       string    `json:"url"`
	Product   string    `json:"product,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Summary is the short form of the last outcome.
type Summary struct {
	RequestID  string          `json:"request_id"`
	Status     purchase.Status `json:"status"`
	Reason     string          `json:"reason"`
	Message    string          `json:"message"`
	Simulated  bool            `json:"simulated"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Status is a point-in-time snapshot of the worker.
type Status struct {
	State                string    `json:"state"`
	Paused               bool      `json:"paused"`
	Current              *Current  `json:"current,omitempty"`
	QueueDepth           int       `json:"queue_depth"`
	Queued               []string  `json:"queued"`
	AwaitingConfirmation []string  `json:"awaiting_confirmation"`
	Completed            int       `json:"completed"`
	Failed               int       `json:"failed"`
	Last                 *Summary  `json:"last,omitempty"`
	StartedAt            time.Time `json:"started_at"`
	UptimeSeconds        int64     `json:"uptime_seconds"`
}

// Status returns a snapshot. It never blocks on the in-flight request.
func (w *Worker) Status() Status {
	queued := w.queue.Snapshot()
	ids := make([]string, len(queued))
	for i, r := range queued {
		ids[i] = r.ID
	}

	pending := []string{}
	if w.confirmer != nil {
		pending = append(pending, w.confirmer.Pending()...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		Paused:               w.paused,
		QueueDepth:           len(ids),
		Queued:               ids,
		AwaitingConfirmation: pending,
		Completed:            w.completed,
		Failed:               w.failed,
		StartedAt:            w.startedAt,
		UptimeSeconds:        int64(w.now().Sub(w.startedAt) / time.Second),
	}
	if w.current != nil {
		c := *w.current
		st.Current = &c
	}
	if w.last != nil {
		l := *w.last
		st.Last = &l
	}

	switch {
	case w.current != nil:
		st.State = StateRunning
	case w.paused:
		st.State = StatePaused
	case w.queue.Closed():
		st.State = StateStopped
	default:
		st.State = StateIdle
	}
	return st
}
