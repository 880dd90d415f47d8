package referral

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Queries are the read-only projections used by dashboards.
type Queries struct {
	store      Store
	thresholds ThresholdPolicy
}

func NewQueries(store Store, thresholds ThresholdPolicy) *Queries {
	return &Queries{store: store, thresholds: thresholds}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetDirectDescendants pages through userID's direct referrals in the order
// they were placed. page starts at 1.
func (q *Queries) GetDirectDescendants(ctx context.Context, userID string, page, limit int) ([]Placement, error) {
	limit = clampLimit(limit)
	if page < 1 {
		page = 1
	}
	return q.store.Placements().ListDirect(ctx, userID, (page-1)*limit, limit)
}

func (q *Queries) GetRecentLedgerActivity(ctx context.Context, userID string, limit int) ([]EarningRecord, error) {
	return q.store.Ledger().Recent(ctx, userID, clampLimit(limit))
}

func (q *Queries) GetLevelStatus(ctx context.Context, userID string) (LevelStatus, error) {
	level, err := q.store.Levels().OpenLevel(ctx, userID)
	if err != nil {
		return LevelStatus{}, err
	}

	status := LevelStatus{
		UserID:        userID,
		Level:         level,
		Threshold:     q.thresholds.Threshold(level),
		TotalEarnings: decimal.Zero,
	}

	rec, err := q.store.Levels().Get(ctx, userID, level)
	switch {
	case err == nil:
		status.LeftCount = rec.LeftCount
		status.RightCount = rec.RightCount
		status.Threshold = rec.Threshold
	case !errors.Is(err, ErrNotFound):
		return LevelStatus{}, err
	}

	acct, err := q.store.Accounts().Get(ctx, userID)
	switch {
	case err == nil:
		status.TotalEarnings = acct.TotalEarnings
		status.ActiveSubscription = acct.ActiveSubscription
	case !errors.Is(err, ErrNotFound):
		return LevelStatus{}, err
	}

	return status, nil
}
