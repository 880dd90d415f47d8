package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-referral/referral"
	"go-referral/referral/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(parent, child string, side referral.Side, depth int) referral.Placement {
	return referral.Placement{
		ParentID: parent,
		ChildID:  child,
		Side:     side,
		Depth:    depth,
		Status:   referral.Pending,
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx referral.Tx) error {
		require.NoError(t, tx.Placements().Create(ctx, edge("a", "b", referral.Left, 1)))
		_, err := tx.Levels().GetOrCreate(ctx, "a", 1, 2)
		require.NoError(t, err)
		_, err = tx.Levels().IncrementSide(ctx, "a", 1, referral.Left)
		require.NoError(t, err)
		require.NoError(t, tx.Accounts().AddEarnings(ctx, "a", decimal.NewFromInt(5)))
		_, err = tx.Ledger().Record(ctx, referral.EarningRecord{UserID: "a", Level: 1, Side: referral.Left, Amount: decimal.NewFromInt(5)})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Placements().Get(ctx, "a", "b")
	assert.ErrorIs(t, err, referral.ErrNotFound)
	_, err = s.Levels().Get(ctx, "a", 1)
	assert.ErrorIs(t, err, referral.ErrNotFound)
	_, err = s.Accounts().Get(ctx, "a")
	assert.ErrorIs(t, err, referral.ErrNotFound)
	total, err := s.Ledger().TotalFor(ctx, "a")
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	left, right, err := s.Placements().CountBySide(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, left+right)
}

func TestFailNextInjectsOnce(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	boom := errors.New("disk full")
	s.FailNext("ledger.Record", boom)

	_, err := s.Ledger().Record(ctx, referral.EarningRecord{UserID: "a"})
	require.ErrorIs(t, err, boom)
	_, err = s.Ledger().Record(ctx, referral.EarningRecord{UserID: "a"})
	require.NoError(t, err)
}

func TestRollbackRestoresExistingAccount(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Accounts().SetActive(ctx, "a", true, at))
	require.NoError(t, s.Accounts().AddEarnings(ctx, "a", decimal.NewFromInt(10)))

	_ = s.Atomic(ctx, func(tx referral.Tx) error {
		require.NoError(t, tx.Accounts().AddEarnings(ctx, "a", decimal.NewFromInt(99)))
		require.NoError(t, tx.Accounts().SetActive(ctx, "a", false, at))
		return errors.New("abort")
	})

	acct, err := s.Accounts().Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, acct.TotalEarnings.Equal(decimal.NewFromInt(10)))
	assert.True(t, acct.ActiveSubscription)
	require.NotNil(t, acct.ActivatedAt)
	assert.Equal(t, at, *acct.ActivatedAt)
}

func TestMarkFinishedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Placements().Create(ctx, edge("a", "b", referral.Left, 1)))

	already, err := s.Placements().MarkFinished(ctx, "a", "b", time.Now())
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.Placements().MarkFinished(ctx, "a", "b", time.Now())
	require.NoError(t, err)
	assert.True(t, already)

	_, err = s.Placements().MarkFinished(ctx, "a", "zz", time.Now())
	assert.ErrorIs(t, err, referral.ErrNotFound)

	pending, err := s.Placements().FindPendingEdgesForChild(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDuplicatePlacementRejected(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Placements().Create(ctx, edge("a", "b", referral.Left, 1)))
	err := s.Placements().Create(ctx, edge("a", "b", referral.Right, 1))
	assert.ErrorIs(t, err, referral.ErrAlreadyPlaced)
}

func TestSecondDirectReferrerRejected(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.Placements().Create(ctx, edge("a", "c", referral.Left, 1)))

	err := s.Placements().Create(ctx, edge("b", "c", referral.Left, 1))
	assert.ErrorIs(t, err, referral.ErrAlreadyPlaced)

	// upline edges for the same child are allowed
	require.NoError(t, s.Placements().Create(ctx, edge("g", "c", referral.Right, 2)))

	parent, err := s.Placements().DirectParent(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "a", parent.ParentID)
}

func TestListDirectPagesInInsertOrder(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		require.NoError(t, s.Placements().Create(ctx, edge("p", c, referral.Left, 1)))
	}
	// deeper edges and other parents must not show up
	require.NoError(t, s.Placements().Create(ctx, edge("p", "g1", referral.Right, 2)))
	require.NoError(t, s.Placements().Create(ctx, edge("q", "c9", referral.Left, 1)))

	page, err := s.Placements().ListDirect(ctx, "p", 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c2", page[0].ChildID)
	assert.Equal(t, "c3", page[1].ChildID)

	n, err := s.Placements().CountDirect(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	left, right, err := s.Placements().CountBySide(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 4, left)
	assert.Equal(t, 1, right)
}

func TestLevelsPromoteAndOpenLevel(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	levels := s.Levels()

	lvl, err := levels.OpenLevel(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, lvl)

	_, err = levels.GetOrCreate(ctx, "u", 1, 1)
	require.NoError(t, err)
	ok, err := levels.TryPromote(ctx, "u", 1, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "empty level must not promote")

	_, err = levels.IncrementSide(ctx, "u", 1, referral.Left)
	require.NoError(t, err)
	rec, err := levels.IncrementSide(ctx, "u", 1, referral.Right)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.LeftCount)
	assert.Equal(t, 1, rec.RightCount)

	ok, err = levels.TryPromote(ctx, "u", 1, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = levels.TryPromote(ctx, "u", 1, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "promotion happens once")

	lvl, err = levels.OpenLevel(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, lvl)
}

func TestLedgerRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	for i := 1; i <= 3; i++ {
		_, err := s.Ledger().Record(ctx, referral.EarningRecord{
			UserID: "u", Level: 1, Side: referral.Left, Amount: decimal.NewFromInt(int64(i)),
		})
		require.NoError(t, err)
	}
	_, err := s.Ledger().Record(ctx, referral.EarningRecord{UserID: "v", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	recent, err := s.Ledger().Recent(ctx, "u", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Amount.Equal(decimal.NewFromInt(3)))
	assert.True(t, recent[1].Amount.Equal(decimal.NewFromInt(2)))

	sum, err := s.Ledger().SumFor(ctx, "u", 1, referral.Left)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(6)))

	total, err := s.Ledger().TotalFor(ctx, "v")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100)))
}

func TestEventQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	q := s.Events()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, q.Enqueue(ctx, referral.ActivationEvent{ID: id, UserID: "u", Status: referral.EventPending}))
	}
	require.Error(t, q.Enqueue(ctx, referral.ActivationEvent{ID: "e1"}))

	require.NoError(t, q.MarkDone(ctx, "e1", time.Now()))
	require.NoError(t, q.MarkFailed(ctx, "e2", "timeout", false))
	require.NoError(t, q.MarkFailed(ctx, "e3", "integrity", true))

	retry, err := q.Retryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, "e2", retry[0].ID)
	assert.Equal(t, 1, retry[0].Attempts)
	assert.Equal(t, "timeout", retry[0].LastError)

	ev, ok := s.Event("e3")
	require.True(t, ok)
	assert.Equal(t, referral.EventDead, ev.Status)
	assert.Len(t, s.AllEvents(), 3)
}
