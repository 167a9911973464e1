package purchase

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AttemptOutcome labels one entry in the attempt log.
type AttemptOutcome string

const (
	AttemptOK        AttemptOutcome = "ok"
	AttemptRetry     AttemptOutcome = "retry"
	AttemptRejected  AttemptOutcome = "rejected"
	AttemptExhausted AttemptOutcome = "exhausted"
	AttemptFatal     AttemptOutcome = "fatal"
	AttemptTimeout   AttemptOutcome = "timeout"
	AttemptSkipped   AttemptOutcome = "skipped"
	AttemptSimulated AttemptOutcome = "simulated"
)

// Attempt is one try at one state.
type Attempt struct {
	State    State          `json:"state"`
	Number   int            `json:"number"`
	At       time.Time      `json:"at"`
	Outcome  AttemptOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`
	Artifact string         `json:"artifact,omitempty"`
}

// Status is the terminal status of a request.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reasons not covered by DecisionReason.
const (
	ReasonOrderPlaced         = "order_placed"
	ReasonDryRun              = "dry_run"
	ReasonConfirmationTimeout = "confirmation_timeout"
)

// ReasonRetriesExhausted names the state whose retry budget ran out.
func ReasonRetriesExhausted(s State) string {
	return "retries_exhausted:" + s.String()
}

// ReasonFatal wraps a fatal failure detail.
func ReasonFatal(detail string) string {
	return "fatal:" + detail
}

// Outcome is the terminal result of one request.
type Outcome struct {
	RequestID  string    `json:"request_id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	Simulated  bool      `json:"simulated"`
	Decision   *Decision `json:"decision,omitempty"`
	OrderRef   string    `json:"order_ref,omitempty"`
	Artifact   string    `json:"artifact,omitempty"`
	Snapshot   string    `json:"snapshot,omitempty"`
	States     []State   `json:"states"`
	Attempts   []Attempt `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Elapsed is the wall time between start and finish.
func (o Outcome) Elapsed() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the request completed.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusCompleted
}

// LastState returns the last visited state, or 0 when nothing ran.
func (o Outcome) LastState() State {
	if len(o.States) == 0 {
		return 0
	}
	return o.States[len(o.States)-1]
}

// DescribeRejection renders a rejected decision for display.
func DescribeRejection(d Decision, expected *decimal.Decimal) string {
	switch d.Reason {
	case ReasonPriceExceeded:
		if expected != nil {
			return fmt.Sprintf("Rejected: listed price is above the expected $%s", expected.StringFixed(2))
		}
		return "Rejected: listed price is above the expected price"
	case ReasonInvalidShipper:
		return "Rejected: no offer ships from and is sold by an accepted seller"
	case ReasonNoOffers:
		return "Rejected: no purchasable offers on the page"
	default:
		return "Rejected: " + string(d.Reason)
	}
}
