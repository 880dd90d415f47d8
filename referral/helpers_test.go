package referral_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go-referral/referral"
	"go-referral/referral/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// codes resolves a referral code to the user whose ID is the code itself.
type codes map[string]bool

func (c codes) ResolveCode(_ context.Context, code string) (string, error) {
	if !c[code] {
		return "", referral.ErrNotFound
	}
	return code, nil
}

type promotions struct {
	mu   sync.Mutex
	seen []string
}

func (p *promotions) LevelPromoted(_ context.Context, userID string, level int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, fmt.Sprintf("%s@%d", userID, level))
}

func (p *promotions) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// flatPolicy keeps the same threshold on every level.
func flatPolicy(n int) referral.ThresholdPolicy {
	return referral.ThresholdPolicy{Base: n, Factor: 1}
}

func newEngine(s referral.Store, share int64, policy referral.ThresholdPolicy, opts ...referral.EngineOption) *referral.Engine {
	opts = append([]referral.EngineOption{referral.WithClock(clock)}, opts...)
	return referral.NewEngine(s, referral.EngineConfig{
		ShareAmount: decimal.NewFromInt(share),
		Thresholds:  policy,
	}, opts...)
}

// seedDirect places child directly under parent on the given side.
func seedDirect(t *testing.T, s *memstore.Store, parent, child string, side referral.Side) {
	t.Helper()
	require.NoError(t, s.Placements().Create(context.Background(), referral.Placement{
		ParentID:  parent,
		ChildID:   child,
		Side:      side,
		Depth:     1,
		Status:    referral.Pending,
		CreatedAt: fixedNow,
	}))
}

func activate(t *testing.T, s *memstore.Store, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, s.Accounts().SetActive(context.Background(), u, true, fixedNow))
	}
}

func earnings(t *testing.T, s referral.Store, user string) decimal.Decimal {
	t.Helper()
	total, err := s.Ledger().TotalFor(context.Background(), user)
	require.NoError(t, err)
	return total
}
