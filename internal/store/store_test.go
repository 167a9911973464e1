package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/testutil"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRequest(t *testing.T, id, price string) purchase.Request {
	t.Helper()
	in := purchase.Inbound{URL: "https://www.amazon.com/dp/B0TESTITEM", Product: "Widget", MessageID: "msg-" + id}
	if price != "" {
		d := decimal.RequireFromString(price)
		in.Price = &d
	}
	req, err := purchase.NewRequest(in, testutil.FixedID(id), testutil.Epoch)
	require.NoError(t, err)
	return req
}

func completedOutcome(id string) purchase.Outcome {
	start := testutil.Epoch.Add(time.Second)
	offer := purchase.Offer{
		Price:     decimal.RequireFromString("29.74"),
		ShipsFrom: "Amazon.com",
		SoldBy:    "Amazon.com",
		Pinned:    true,
		Position:  purchase.PinnedPosition,
	}
	d := purchase.Accept(offer, purchase.ReasonPinnedValid, 0)
	return purchase.Outcome{
		RequestID: id,
		Status:    purchase.StatusCompleted,
		Reason:    purchase.ReasonOrderPlaced,
		Message:   "Order placed for Widget",
		Decision:  &d,
		OrderRef:  "111-2223333-4445555",
		States: []purchase.State{
			purchase.StateOpeningProduct,
			purchase.StatePlacingOrder,
			purchase.StateCompleted,
		},
		Attempts: []purchase.Attempt{
			{State: purchase.StateOpeningProduct, Number: 1, At: start, Outcome: purchase.AttemptRetry, Error: "driver: timeout"},
			{State: purchase.StateOpeningProduct, Number: 2, At: start.Add(time.Second), Outcome: purchase.AttemptOK},
			{State: purchase.StatePlacingOrder, Number: 1, At: start.Add(2 * time.Second), Outcome: purchase.AttemptOK},
		},
		StartedAt:  start,
		FinishedAt: start.Add(2500 * time.Millisecond),
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	req := testRequest(t, "req-1", "29.74")
	out := completedOutcome(req.ID)

	require.NoError(t, s.Record(ctx, req, out))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.RequestID)
	assert.Equal(t, req.Key, got.RequestKey)
	assert.Equal(t, "Widget", got.Product)
	assert.Equal(t, "msg-req-1", got.SourceMessageID)
	require.NotNil(t, got.ExpectedPrice)
	assert.True(t, got.ExpectedPrice.Equal(decimal.RequireFromString("29.74")))
	assert.Equal(t, purchase.StatusCompleted, got.Status)
	assert.Equal(t, purchase.ReasonOrderPlaced, got.Reason)
	assert.Equal(t, "111-2223333-4445555", got.OrderRef)
	assert.Equal(t, out.States, got.States)
	assert.Equal(t, int64(2500), got.ElapsedMS)
	assert.Equal(t, 2500*time.Millisecond, got.Elapsed())
	assert.True(t, got.StartedAt.Equal(out.StartedAt))

	require.NotNil(t, got.Decision)
	assert.Equal(t, purchase.ReasonPinnedValid, got.Decision.Reason)
	require.NotNil(t, got.Decision.Offer)
	assert.Equal(t, "29.74", got.Decision.Offer.Price.String())
	assert.True(t, got.Decision.Offer.Pinned)

	require.Len(t, got.Attempts, 3)
	assert.Equal(t, purchase.AttemptRetry, got.Attempts[0].Outcome)
	assert.Equal(t, "driver: timeout", got.Attempts[0].Error)
	assert.Equal(t, purchase.StatePlacingOrder, got.Attempts[2].State)
	assert.True(t, got.Attempts[1].At.Equal(out.Attempts[1].At))
}

func TestRecord_NoPriceNoDecision(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	req := testRequest(t, "req-1", "")
	out := purchase.Outcome{
		RequestID:  req.ID,
		Status:     purchase.StatusFailed,
		Reason:     purchase.ReasonFatal("session_closed"),
		States:     []purchase.State{purchase.StateOpeningProduct, purchase.StateFailed},
		StartedAt:  testutil.Epoch,
		FinishedAt: testutil.Epoch,
	}
	require.NoError(t, s.Record(ctx, req, out))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpectedPrice)
	assert.Nil(t, got.Decision)
	assert.Empty(t, got.Attempts)
	assert.Equal(t, "fatal:session_closed", got.Reason)
}

func TestRecord_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	req := testRequest(t, "req-1", "29.74")
	out := completedOutcome(req.ID)

	require.NoError(t, s.Record(ctx, req, out))
	out.Reason = "changed"
	require.NoError(t, s.Record(ctx, req, out))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.ReasonOrderPlaced, got.Reason)
	assert.Len(t, got.Attempts, 3)
}

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		req := testRequest(t, id, "29.74")
		require.NoError(t, s.Record(ctx, req, completedOutcome(id)))
	}

	all, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RequestID)
	assert.Equal(t, "a", all[2].RequestID)
	assert.Nil(t, all[0].Attempts)

	two, err := s.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "b", two[1].RequestID)
}

func TestHistory_Empty(t *testing.T) {
	got, err := createTestStore(t).History(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGet_NotFound(t *testing.T) {
	_, err := createTestStore(t).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_RetentionCascadesAttempts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t, WithRetention(2))
	for _, id := range []string{"a", "b", "c"} {
		req := testRequest(t, id, "29.74")
		require.NoError(t, s.Record(ctx, req, completedOutcome(id)))
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	var orphans int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM attempts WHERE request_id = 'a'`).Scan(&orphans))
	assert.Equal(t, 0, orphans)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		req := testRequest(t, id, "")
		require.NoError(t, s.Record(ctx, req, completedOutcome(id)))
	}

	removed, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	left, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "d", left[0].RequestID)
}

func TestRecord_DiagnosticArtifacts(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	req := testRequest(t, "req-1", "29.74")
	out := purchase.Outcome{
		RequestID:  req.ID,
		Status:     purchase.StatusFailed,
		Reason:     purchase.ReasonRetriesExhausted(purchase.StateAddingToCart),
		Artifact:   "artifacts/screenshot-1.png",
		Snapshot:   "artifacts/html-2.html",
		States:     []purchase.State{purchase.StateOpeningProduct, purchase.StateAddingToCart, purchase.StateFailed},
		StartedAt:  testutil.Epoch,
		FinishedAt: testutil.Epoch,
	}
	require.NoError(t, s.Record(ctx, req, out))

	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/screenshot-1.png", got.Artifact)
	assert.Equal(t, "artifacts/html-2.html", got.Snapshot)
}

func TestOpen_MigratesVersion1Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "2"))

	ctx := context.Background()
	req := testRequest(t, "req-1", "29.74")
	out := completedOutcome(req.ID)
	out.Snapshot = "artifacts/html-1.html"
	require.NoError(t, s.Record(ctx, req, out))
	got, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/html-1.html", got.Snapshot)
}
