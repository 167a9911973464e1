package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dropcart/internal/purchase"
)

// Activity is one stored request outcome.
type Activity struct {
	Seq             int64              `json:"seq"`
	RequestID       string             `json:"request_id"`
	RequestKey      string             `json:"request_key"`
	URL             string             `json:"url"`
	Product         string             `json:"product,omitempty"`
	ExpectedPrice   *decimal.Decimal   `json:"expected_price,omitempty"`
	SourceMessageID string             `json:"source_message_id,omitempty"`
	Status          purchase.Status    `json:"status"`
	Reason          string             `json:"reason"`
	Message         string             `json:"message"`
	Simulated       bool               `json:"simulated"`
	OrderRef        string             `json:"order_ref,omitempty"`
	Artifact        string             `json:"artifact,omitempty"`
	Snapshot        string             `json:"snapshot,omitempty"`
	Decision        *purchase.Decision `json:"decision,omitempty"`
	States          []purchase.State   `json:"states"`
	EnqueuedAt      time.Time          `json:"enqueued_at"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	ElapsedMS       int64              `json:"elapsed_ms"`

	// Attempts is filled by Get only.
	Attempts []purchase.Attempt `json:"attempts,omitempty"`
}

// Elapsed is the recorded run time of the request.
func (a Activity) Elapsed() time.Duration {
	return time.Duration(a.ElapsedMS) * time.Millisecond
}

const activityColumns = `
	seq, request_id, request_key, url, product, expected_price, source_message_id,
	status, reason, message, simulated, order_ref, artifact, decision, states,
	enqueued_at, started_at, finished_at, elapsed_ms, snapshot`

// History returns up to limit activities, newest first. A limit of zero or
// less returns everything.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) History(ctx context.Context, limit int) ([]Activity, error) {
	query := `SELECT` + activityColumns + ` FROM activity ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	out := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}

// Get returns one activity with its attempt log.
func (s *Store) Get(ctx context.Context, requestID string) (Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+activityColumns+` FROM activity WHERE request_id = ?`, requestID)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return Activity{}, err
	}

	attempts, err := s.readAttempts(ctx, requestID)
	if err != nil {
		return Activity{}, err
	}
	a.Attempts = attempts
	return a, nil
}

// Count returns the number of stored activities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activity: %w", err)
	}
	return n, nil
}

func (s *Store) readAttempts(ctx context.Context, requestID string) ([]purchase.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, number, at, outcome, error, artifact
		FROM attempts
		WHERE request_id = ?
		ORDER BY idx ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := []purchase.Attempt{}
	for rows.Next() {
		var (
			a       purchase.Attempt
			state   string
			at      string
			outcome string
		)
		if err := rows.Scan(&state, &a.Number, &at, &outcome, &a.Error, &a.Artifact); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		st, ok := purchase.ParseState(state)
		if !ok {
			return nil, fmt.Errorf("scan attempt: unknown state %q", state)
		}
		a.State = st
		a.Outcome = purchase.AttemptOutcome(outcome)
		if a.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (Activity, error) {
	var (
		a          Activity
		expected   sql.NullString
		status     string
		decision   sql.NullString
		states     string
		enqueuedAt string
		startedAt  string
		finishedAt string
		elapsedMS  int64
	)
	err := row.Scan(
		&a.Seq, &a.RequestID, &a.RequestKey, &a.URL, &a.Product, &expected, &a.SourceMessageID,
		&status, &a.Reason, &a.Message, &a.Simulated, &a.OrderRef, &a.Artifact, &decision, &states,
		&enqueuedAt, &startedAt, &finishedAt, &elapsedMS, &a.Snapshot,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, err
	}
	if err != nil {
		return Activity{}, fmt.Errorf("scan activity: %w", err)
	}

	a.Status = purchase.Status(status)
	a.ElapsedMS = elapsedMS

	if expected.Valid {
		p, err := decimal.NewFromString(expected.String)
		if err != nil {
			return Activity{}, fmt.Errorf("scan activity: expected price: %w", err)
		}
		a.ExpectedPrice = &p
	}
	if decision.Valid {
		if a.Decision, err = unmarshalDecision(&decision.String); err != nil {
			return Activity{}, err
		}
	}
	if a.States, err = unmarshalStates(states); err != nil {
		return Activity{}, err
	}
	for _, ts := range []struct {
		dst *time.Time
		src string
	}{
		{&a.EnqueuedAt, enqueuedAt},
		{&a.StartedAt, startedAt},
		{&a.FinishedAt, finishedAt},
	} {
		if *ts.dst, err = parseTime(ts.src); err != nil {
			return Activity{}, fmt.Errorf("scan activity: %w", err)
		}
	}
	return a, nil
}
