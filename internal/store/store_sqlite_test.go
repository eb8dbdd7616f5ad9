package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/api/internal/policy"
)

func TestGroupPolicyFallsBackToDefaults(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()

	got, err := s.GroupPolicy(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, policy.ModeAll, got.Mode)
	assert.Equal(t, policy.DefaultTimeoutDays, got.TimeoutDays)

	custom := policy.GroupPolicy{
		Mode:                     policy.ModePercentage,
		PercentageThreshold:      decimal.RequireFromString("12.5"),
		TimeoutDays:              5,
		DeletionRequiresApproval: true,
	}
	require.NoError(t, s.InsertGroup(ctx, Group{ID: "g2", Name: "Trip", Policy: &custom}))
	got, err = s.GroupPolicy(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, policy.ModePercentage, got.Mode)
	assert.True(t, got.PercentageThreshold.Equal(custom.PercentageThreshold))
	assert.Equal(t, 5, got.TimeoutDays)
	assert.False(t, got.SharedRequiresApproval)
	assert.True(t, got.DeletionRequiresApproval)

	_, err = s.GroupPolicy(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.InsertGroup(ctx, Group{ID: "g2", Name: "Again"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestEligibleVotersExcludeRequesterAndInactive(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()

	voters, err := s.EligibleVoters(ctx, "g1", "alice")
	require.NoError(t, err)
	ids := make([]string, 0, len(voters))
	for _, voter := range voters {
		ids = append(ids, voter.UserID)
	}
	assert.Equal(t, []string{"bob", "carol"}, ids)

	active, err := s.IsActiveMember(ctx, "g1", "dave")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, s.SetMemberActive(ctx, "g1", "dave", true))
	active, err = s.IsActiveMember(ctx, "g1", "dave")
	require.NoError(t, err)
	assert.True(t, active)

	assert.ErrorIs(t, s.SetMemberActive(ctx, "g1", "nobody", true), ErrNotFound)

	member, err := s.GetMember(ctx, "g1", "carol")
	require.NoError(t, err)
	assert.True(t, member.Active)
	_, err = s.GetMember(ctx, "g1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItemReadModifyWrite(t *testing.T) {
	s := newTestStore(t)
	seed := seedGroup(t, s)
	ctx := context.Background()

	item, err := s.ResolveItem(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, item.Amount.Equal(seed.Amount))
	assert.Nil(t, item.AssigneeID)
	assert.True(t, item.Active)

	due := testNow.Add(48 * time.Hour)
	assignee := "bob"
	err = s.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.ResolveItem(ctx, seed.ID)
		if err != nil {
			return err
		}
		locked.Amount = decimal.NewFromInt(1300)
		locked.AssigneeID = &assignee
		locked.DueDate = &due
		locked.UpdatedAt = testNow.Add(time.Hour)
		return s.SaveItem(ctx, locked)
	})
	require.NoError(t, err)

	item, err = s.ResolveItem(ctx, seed.ID)
	require.NoError(t, err)
	assert.True(t, item.Amount.Equal(decimal.NewFromInt(1300)))
	require.NotNil(t, item.AssigneeID)
	assert.Equal(t, "bob", *item.AssigneeID)
	require.NotNil(t, item.DueDate)
	assert.True(t, item.DueDate.Equal(due))

	require.NoError(t, s.DeactivateItem(ctx, seed.ID, testNow))
	item, err = s.ResolveItem(ctx, seed.ID)
	require.NoError(t, err)
	assert.False(t, item.Active)

	_, err = s.ResolveItem(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeactivateItem(ctx, "missing", testNow), ErrNotFound)
}

func TestChangeRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()

	want := pendingRequest("cr-1", "alice", 2)
	require.NoError(t, s.CreateChangeRequest(ctx, want))
	assert.ErrorIs(t, s.CreateChangeRequest(ctx, want), ErrDuplicate)

	got, err := s.GetChangeRequest(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, KindAmount, got.Kind)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "1300", got.NewValues["amount"])
	assert.Equal(t, 2, got.RequiredApprovals)
	assert.True(t, got.ExpiresAt.Equal(want.ExpiresAt))
	assert.Nil(t, got.ResolvedAt)

	_, err = s.GetChangeRequest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LockChangeRequest(ctx, "cr-1")
	assert.ErrorIs(t, err, ErrNoTx)
}

func TestIncrementApprovalsNeverPassesQuorum(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)))

	for i, want := range []int{1, 2, 2, 2} {
		got, err := s.IncrementApprovals(ctx, "cr-1")
		require.NoError(t, err)
		assert.Equal(t, want, got, "increment %d", i)
	}

	_, err := s.IncrementApprovals(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)))

	moved, err := s.TransitionStatus(ctx, "cr-1", StatusRejected, testNow, "vetoed")
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.TransitionStatus(ctx, "cr-1", StatusApproved, testNow, "")
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = s.TransitionStatus(ctx, "cr-1", StatusPending, testNow, "")
	assert.Error(t, err)

	got, err := s.GetChangeRequest(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "vetoed", got.ResolutionReason)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, got.ResolvedAt.Equal(testNow))

	// Counters are frozen once terminal.
	count, err := s.IncrementApprovals(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestListPendingForVoter(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)))
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-2", "bob", 2)))
	resolved := pendingRequest("cr-3", "alice", 2)
	require.NoError(t, s.CreateChangeRequest(ctx, resolved))
	_, err := s.TransitionStatus(ctx, "cr-3", StatusCancelled, testNow, "")
	require.NoError(t, err)

	ids := func(voter string) []string {
		items, err := s.ListPendingForVoter(ctx, voter)
		require.NoError(t, err)
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}

	assert.Equal(t, []string{"cr-2"}, ids("alice"))
	assert.Equal(t, []string{"cr-1"}, ids("bob"))
	assert.Equal(t, []string{"cr-1", "cr-2"}, ids("carol"))
	assert.Empty(t, ids("dave"))
	assert.Empty(t, ids("stranger"))

	require.NoError(t, s.InsertVote(ctx, Vote{ID: "v-1", ChangeRequestID: "cr-1", VoterID: "carol", Decision: DecisionApprove, CreatedAt: testNow}))
	assert.Equal(t, []string{"cr-2"}, ids("carol"))
}

func TestListExpiredAndQuorumReached(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()

	expired := pendingRequest("cr-old", "alice", 2)
	expired.ExpiresAt = testNow.Add(-time.Hour)
	require.NoError(t, s.CreateChangeRequest(ctx, expired))
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-fresh", "alice", 1)))

	ids, err := s.ListExpiredPending(ctx, testNow, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"cr-old"}, ids)

	ids, err = s.ListQuorumReachedPending(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.IncrementApprovals(ctx, "cr-fresh")
	require.NoError(t, err)
	ids, err = s.ListQuorumReachedPending(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"cr-fresh"}, ids)
	ids, err = s.ListQuorumReachedPending(ctx, "cr-fresh", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestListExpiredPendingPagesByID(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()

	for _, id := range []string{"cr-c", "cr-a", "cr-b"} {
		request := pendingRequest(id, "alice", 2)
		request.ExpiresAt = testNow.Add(-time.Hour)
		require.NoError(t, s.CreateChangeRequest(ctx, request))
	}

	page, err := s.ListExpiredPending(ctx, testNow, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"cr-a", "cr-b"}, page)

	page, err = s.ListExpiredPending(ctx, testNow, "cr-b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"cr-c"}, page)

	page, err = s.ListExpiredPending(ctx, testNow, "cr-c", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestVotesAreUniquePerVoter(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)))

	vote := Vote{ID: "v-1", ChangeRequestID: "cr-1", VoterID: "bob", Decision: DecisionApprove, CreatedAt: testNow}
	require.NoError(t, s.InsertVote(ctx, vote))

	again := vote
	again.ID = "v-2"
	again.Decision = DecisionReject
	assert.ErrorIs(t, s.InsertVote(ctx, again), ErrDuplicate)

	voted, err := s.HasVoted(ctx, "cr-1", "bob")
	require.NoError(t, err)
	assert.True(t, voted)

	votes, err := s.ListVotes(ctx, "cr-1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, DecisionApprove, votes[0].Decision)
}

func TestHistoryIsOncePerRequest(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)))

	requestID := "cr-1"
	record := HistoryRecord{
		ID:              "h-1",
		GroupID:         "g1",
		ItemID:          "item-rent",
		Kind:            KindAmount,
		OldValues:       Values{"amount": "1200.50"},
		NewValues:       Values{"amount": "1300"},
		ChangedBy:       "alice",
		ChangeRequestID: &requestID,
		CreatedAt:       testNow,
	}
	require.NoError(t, s.InsertHistory(ctx, record))

	dup := record
	dup.ID = "h-2"
	assert.ErrorIs(t, s.InsertHistory(ctx, dup), ErrDuplicate)

	exists, err := s.HistoryExistsForRequest(ctx, "cr-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Direct changes carry no request and do not collide.
	for i, id := range []string{"h-3", "h-4"} {
		direct := record
		direct.ID = id
		direct.ChangeRequestID = nil
		direct.CreatedAt = testNow.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, s.InsertHistory(ctx, direct))
	}

	items, err := s.ListHistory(ctx, "g1", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "h-4", items[0].ID)
	assert.Equal(t, "h-3", items[1].ID)
	assert.Nil(t, items[0].ChangeRequestID)

	items, err = s.ListHistory(ctx, "g1", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.NotNil(t, items[2].ChangeRequestID)
	assert.Equal(t, "cr-1", *items[2].ChangeRequestID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 2)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetChangeRequest(ctx, "cr-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInSavepointKeepsOuterWrites(t *testing.T) {
	s := newTestStore(t)
	seedGroup(t, s)
	ctx := context.Background()
	require.NoError(t, s.CreateChangeRequest(ctx, pendingRequest("cr-1", "alice", 1)))
	boom := errors.New("apply failed")

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.InsertVote(ctx, Vote{ID: "v-1", ChangeRequestID: "cr-1", VoterID: "bob", Decision: DecisionApprove, CreatedAt: testNow}); err != nil {
			return err
		}
		if _, err := s.IncrementApprovals(ctx, "cr-1"); err != nil {
			return err
		}
		err := s.InSavepoint(ctx, "apply_change", func(ctx context.Context) error {
			if _, err := s.TransitionStatus(ctx, "cr-1", StatusApproved, testNow, ""); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetChangeRequest(ctx, "cr-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.ReceivedApprovals)

	voted, err := s.HasVoted(ctx, "cr-1", "bob")
	require.NoError(t, err)
	assert.True(t, voted)

	assert.ErrorIs(t, s.InSavepoint(ctx, "outside", func(context.Context) error { return nil }), ErrNoTx)
}
