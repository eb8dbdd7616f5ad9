package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, SQLite.Name, filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyMigrations(ctx, db, dialect))
	return NewSQLStore(db, dialect)
}

// seedGroup creates group g1 with alice, bob and carol active and dave
// inactive, plus one item owned by the group.
func seedGroup(t *testing.T, s *SQLStore) Item {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InsertGroup(ctx, Group{ID: "g1", Name: "Flat 4B", CreatedAt: testNow}))
	for _, member := range []Member{
		{GroupID: "g1", UserID: "alice", DisplayName: "Alice", Email: "alice@example.com", Active: true},
		{GroupID: "g1", UserID: "bob", DisplayName: "Bob", Email: "bob@example.com", Active: true},
		{GroupID: "g1", UserID: "carol", DisplayName: "Carol", Email: "carol@example.com", Active: true},
		{GroupID: "g1", UserID: "dave", DisplayName: "Dave", Email: "dave@example.com", Active: false},
	} {
		require.NoError(t, s.AddMember(ctx, member))
	}
	item := Item{
		ID:        "item-rent",
		GroupID:   "g1",
		Title:     "Rent",
		Amount:    decimal.RequireFromString("1200.50"),
		Active:    true,
		CreatedBy: "alice",
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, s.InsertItem(ctx, item))
	return item
}

func pendingRequest(id, requester string, required int) ChangeRequest {
	return ChangeRequest{
		ID:                id,
		GroupID:           "g1",
		ItemID:            "item-rent",
		RequestedBy:       requester,
		Kind:              KindAmount,
		OldValues:         Values{"amount": "1200.50"},
		NewValues:         Values{"amount": "1300"},
		Reason:            "landlord raised rent",
		Status:            StatusPending,
		RequiredApprovals: required,
		ExpiresAt:         testNow.Add(7 * 24 * time.Hour),
		CreatedAt:         testNow,
	}
}
