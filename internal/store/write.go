package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/dropcart/internal/purchase"
)

// Record writes the activity row and attempt log of a finished request in
// one transaction, then applies retention.
//
// Uses ON CONFLICT(request_id) DO NOTHING for idempotency: recording the
// same request twice keeps the first record.
func (s *Store) Record(ctx context.Context, req purchase.Request, out purchase.Outcome) error {
	decision, err := marshalDecision(out.Decision)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	states, err := marshalStates(out.States)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	var expected any
	if req.ExpectedPrice != nil {
		expected = req.ExpectedPrice.String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record activity: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO activity
		(request_id, request_key, url, product, expected_price, source_message_id,
		 status, reason, message, simulated, order_ref, artifact, decision, states,
		 enqueued_at, started_at, finished_at, elapsed_ms, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING
	`,
		req.ID,
		req.Key,
		req.URL,
		req.ProductLabel,
		expected,
		req.SourceMessageID,
		string(out.Status),
		out.Reason,
		out.Message,
		out.Simulated,
		out.OrderRef,
		out.Artifact,
		decision,
		states,
		formatTime(req.EnqueuedAt),
		formatTime(out.StartedAt),
		formatTime(out.FinishedAt),
		out.Elapsed().Milliseconds(),
		out.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record activity: rows affected: %w", err)
	}
	if inserted == 0 {
		return tx.Commit()
	}

	for i, a := range out.Attempts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts
			(request_id, idx, state, number, at, outcome, error, artifact)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			req.ID,
			i,
			a.State.String(),
			a.Number,
			formatTime(a.At),
			string(a.Outcome),
			a.Error,
			a.Artifact,
		)
		if err != nil {
			return fmt.Errorf("record attempt %d: %w", i, err)
		}
	}

	if s.retain > 0 {
		if _, err := prune(ctx, tx, s.retain); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record activity: commit: %w", err)
	}
	return nil
}

// Prune deletes all but the newest keep activities and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	return prune(ctx, s.db, keep)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func prune(ctx context.Context, db execer, keep int) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM activity
		WHERE seq NOT IN (
			SELECT seq FROM activity ORDER BY seq DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune activity: rows affected: %w", err)
	}
	return n, nil
}
