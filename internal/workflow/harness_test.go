package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tally/api/internal/policy"
	"tally/api/internal/store"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu         sync.Mutex
	created    []store.ChangeRequest
	recipients [][]string
	resolved   []store.ChangeRequest
	err        error
}

func (n *recordingNotifier) NotifyCreated(_ context.Context, request store.ChangeRequest, recipients []store.Member) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(recipients))
	for _, member := range recipients {
		ids = append(ids, member.UserID)
	}
	n.created = append(n.created, request)
	n.recipients = append(n.recipients, ids)
	return n.err
}

func (n *recordingNotifier) NotifyResolved(_ context.Context, request store.ChangeRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, request)
	return n.err
}

func (n *recordingNotifier) resolvedStatuses() []store.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]store.Status, 0, len(n.resolved))
	for _, request := range n.resolved {
		out = append(out, request.Status)
	}
	return out
}

type harness struct {
	t        *testing.T
	store    *store.SQLStore
	svc      *Service
	clock    *fakeClock
	notifier *recordingNotifier
}

func openStore(t *testing.T) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, store.SQLite.Name, filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, dialect))
	return store.NewSQLStore(db, dialect)
}

func sequentialIDs() func(string) string {
	var counter atomic.Int64
	return func(prefix string) string {
		return fmt.Sprintf("%s_%04d", prefix, counter.Add(1))
	}
}

// newHarness seeds group g1 where alice, bob, carol and dave are active and
// erin is not, with item-rent and item-power both at 100.
func newHarness(t *testing.T, groupPolicy *policy.GroupPolicy) *harness {
	t.Helper()
	st := openStore(t)
	clock := &fakeClock{now: start}
	notifier := &recordingNotifier{}
	h := &harness{
		t:        t,
		store:    st,
		clock:    clock,
		notifier: notifier,
	}
	h.reconfigure()

	ctx := context.Background()
	require.NoError(t, st.InsertGroup(ctx, store.Group{ID: "g1", Name: "Flat 4B", Policy: groupPolicy, CreatedAt: start}))
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		require.NoError(t, st.AddMember(ctx, store.Member{GroupID: "g1", UserID: id, DisplayName: id, Email: id + "@example.com", Active: true}))
	}
	require.NoError(t, st.AddMember(ctx, store.Member{GroupID: "g1", UserID: "erin", DisplayName: "erin", Active: false}))
	for _, id := range []string{"item-rent", "item-power"} {
		require.NoError(t, st.InsertItem(ctx, store.Item{
			ID:        id,
			GroupID:   "g1",
			Title:     id,
			Amount:    decimal.NewFromInt(100),
			Active:    true,
			CreatedBy: "alice",
			CreatedAt: start,
			UpdatedAt: start,
		}))
	}
	return h
}

// reconfigure rebuilds the service on the same store, clock and notifier
// with extra options. Ids restart, so call it before proposing anything.
func (h *harness) reconfigure(opts ...Option) {
	base := []Option{
		WithNotifier(h.notifier),
		WithClock(h.clock.Now),
		WithIDGenerator(sequentialIDs()),
	}
	h.svc = New(h.store, h.store, h.store, h.store, append(base, opts...)...)
}

func (h *harness) propose(p Proposal) Outcome {
	h.t.Helper()
	if p.GroupID == "" {
		p.GroupID = "g1"
	}
	if p.RequestedBy == "" {
		p.RequestedBy = "alice"
	}
	outcome, err := h.svc.ProposeChange(context.Background(), p)
	require.NoError(h.t, err)
	return outcome
}

func (h *harness) proposeAmount(itemID, amount string) store.ChangeRequest {
	h.t.Helper()
	outcome := h.propose(Proposal{ItemID: itemID, Kind: store.KindAmount, NewValues: store.Values{"amount": amount}})
	require.False(h.t, outcome.AppliedImmediately)
	require.NotNil(h.t, outcome.Request)
	return *outcome.Request
}

func (h *harness) vote(requestID, voter string, decision store.Decision) (store.ChangeRequest, error) {
	return h.svc.Vote(context.Background(), requestID, voter, decision, "")
}

func (h *harness) mustVote(requestID, voter string, decision store.Decision) store.ChangeRequest {
	h.t.Helper()
	request, err := h.vote(requestID, voter, decision)
	require.NoError(h.t, err)
	return request
}

func (h *harness) request(requestID string) store.ChangeRequest {
	h.t.Helper()
	request, err := h.store.GetChangeRequest(context.Background(), requestID)
	require.NoError(h.t, err)
	return request
}

func (h *harness) item(itemID string) store.Item {
	h.t.Helper()
	item, err := h.store.ResolveItem(context.Background(), itemID)
	require.NoError(h.t, err)
	return item
}

func (h *harness) history() []store.HistoryRecord {
	h.t.Helper()
	records, err := h.svc.History(context.Background(), "g1", 0)
	require.NoError(h.t, err)
	return records
}

var errNotify = errors.New("smtp unavailable")
