package referral

import (
	"context"
	"fmt"
)

// SidePolicy picks the side a new direct referral takes under parentID.
type SidePolicy interface {
	ChooseSide(ctx context.Context, placements PlacementStore, parentID string) (Side, error)
}

// LeastFilled puts the child on the leg with fewer placements (any depth).
// Ties go left.
type LeastFilled struct{}

func (LeastFilled) ChooseSide(ctx context.Context, placements PlacementStore, parentID string) (Side, error) {
	left, right, err := placements.CountBySide(ctx, parentID)
	if err != nil {
		return "", err
	}
	if right < left {
		return Right, nil
	}
	return Left, nil
}

// Alternating uses left for even-numbered direct referrals and right for
// odd-numbered ones.
type Alternating struct{}

func (Alternating) ChooseSide(ctx context.Context, placements PlacementStore, parentID string) (Side, error) {
	n, err := placements.CountDirect(ctx, parentID)
	if err != nil {
		return "", err
	}
	if n%2 == 0 {
		return Left, nil
	}
	return Right, nil
}

func SidePolicyByName(name string) (SidePolicy, error) {
	switch name {
	case "", "least_filled":
		return LeastFilled{}, nil
	case "alternating":
		return Alternating{}, nil
	}
	return nil, fmt.Errorf("unknown side policy %q", name)
}
