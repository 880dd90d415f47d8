package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultMaxDepth = 16

// Placer turns a signup with a referral code into placement edges: one
// direct edge under the referrer plus one edge for each of the referrer's
// ancestors up to MaxDepth hops away.
type Placer struct {
	store    Store
	resolver CodeResolver
	sides    SidePolicy
	maxDepth int
	logger   *zap.Logger
	now      func() time.Time
}

type PlacerOption func(*Placer)

func WithSidePolicy(p SidePolicy) PlacerOption {
	return func(pl *Placer) { pl.sides = p }
}

func WithMaxDepth(n int) PlacerOption {
	return func(pl *Placer) {
		if n > 0 {
			pl.maxDepth = n
		}
	}
}

func WithPlacerLogger(l *zap.Logger) PlacerOption {
	return func(pl *Placer) { pl.logger = l }
}

func WithPlacerClock(now func() time.Time) PlacerOption {
	return func(pl *Placer) { pl.now = now }
}

func NewPlacer(store Store, resolver CodeResolver, opts ...PlacerOption) *Placer {
	p := &Placer{
		store:    store,
		resolver: resolver,
		sides:    LeastFilled{},
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// With returns a copy bound to another store and resolver, e.g. ones that
// share the caller's database transaction.
func (p *Placer) With(store Store, resolver CodeResolver) *Placer {
	cp := *p
	cp.store = store
	cp.resolver = resolver
	return &cp
}

func (p *Placer) PlaceReferral(ctx context.Context, newUserID, referralCode string) (PlacementResult, error) {
	code := strings.TrimSpace(referralCode)
	if code == "" {
		return PlacementResult{}, ErrInvalidReferralCode
	}

	referrerID, err := p.resolver.ResolveCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return PlacementResult{}, ErrInvalidReferralCode
	}
	if err != nil {
		return PlacementResult{}, fmt.Errorf("resolve referral code: %w", err)
	}
	if referrerID == newUserID {
		return PlacementResult{}, ErrSelfReferral
	}

	var result PlacementResult
	err = p.store.Atomic(ctx, func(tx Tx) error {
		placements := tx.Placements()

		if _, err := placements.DirectParent(ctx, newUserID); err == nil {
			return ErrAlreadyPlaced
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if err := p.checkAncestry(ctx, placements, referrerID, newUserID); err != nil {
			return err
		}

		upline, err := placements.EdgesForChild(ctx, referrerID)
		if err != nil {
			return err
		}

		side, err := p.sides.ChooseSide(ctx, placements, referrerID)
		if err != nil {
			return fmt.Errorf("choose side: %w", err)
		}

		now := p.now()
		edges := []Placement{{
			ParentID:  referrerID,
			ChildID:   newUserID,
			Side:      side,
			Depth:     1,
			Status:    Pending,
			CreatedAt: now,
		}}
		for _, up := range upline {
			if up.Depth+1 > p.maxDepth {
				continue
			}
			edges = append(edges, Placement{
				ParentID:  up.ParentID,
				ChildID:   newUserID,
				Side:      up.Side,
				Depth:     up.Depth + 1,
				Status:    Pending,
				CreatedAt: now,
			})
		}

		for _, e := range edges {
			if err := placements.Create(ctx, e); err != nil {
				return fmt.Errorf("create placement %s->%s: %w", e.ParentID, e.ChildID, err)
			}
		}

		result = PlacementResult{ReferrerID: referrerID, Side: side, Edges: edges}
		return nil
	})
	if err != nil {
		return PlacementResult{}, err
	}

	p.logger.Info("referral placed",
		zap.String("user", newUserID),
		zap.String("referrer", referrerID),
		zap.String("side", string(result.Side)),
		zap.Int("edges", len(result.Edges)),
	)
	return result, nil
}

// checkAncestry walks the direct-referrer chain up from referrerID and
// rejects the placement if newUserID is on it.
func (p *Placer) checkAncestry(ctx context.Context, placements PlacementStore, referrerID, newUserID string) error {
	cur := referrerID
	for i := 0; i < p.maxDepth; i++ {
		edge, err := placements.DirectParent(ctx, cur)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if edge.ParentID == newUserID {
			return ErrCyclicReferral
		}
		cur = edge.ParentID
	}
	return nil
}
