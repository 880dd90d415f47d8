package referral_test

import (
	"context"
	"errors"
	"testing"

	"go-referral/referral"
	"go-referral/referral/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPlacer(s referral.Store, known []string, opts ...referral.PlacerOption) *referral.Placer {
	c := codes{}
	for _, u := range known {
		c[u] = true
	}
	opts = append([]referral.PlacerOption{referral.WithPlacerClock(clock)}, opts...)
	return referral.NewPlacer(s, c, opts...)
}

func TestPlaceReferralRejectsBadCodes(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"alice"})

	_, err := p.PlaceReferral(ctx, "bob", "   ")
	assert.ErrorIs(t, err, referral.ErrInvalidReferralCode)

	_, err = p.PlaceReferral(ctx, "bob", "nobody")
	assert.ErrorIs(t, err, referral.ErrInvalidReferralCode)

	_, err = p.PlaceReferral(ctx, "alice", "alice")
	assert.ErrorIs(t, err, referral.ErrSelfReferral)

	edges, err := s.Placements().EdgesForChild(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestPlaceReferralTwice(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"alice", "carol"})

	_, err := p.PlaceReferral(ctx, "bob", "alice")
	require.NoError(t, err)

	_, err = p.PlaceReferral(ctx, "bob", "carol")
	assert.ErrorIs(t, err, referral.ErrAlreadyPlaced)
}

func TestPlaceReferralRejectsCycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"alice", "bob", "carol"})

	_, err := p.PlaceReferral(ctx, "bob", "alice")
	require.NoError(t, err)
	_, err = p.PlaceReferral(ctx, "carol", "bob")
	require.NoError(t, err)

	// alice is the root, so placing her below carol would loop
	_, err = p.PlaceReferral(ctx, "alice", "carol")
	assert.ErrorIs(t, err, referral.ErrCyclicReferral)

	edges, err := s.Placements().EdgesForChild(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestPlaceReferralCascadesUpline(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"u0", "u1", "u2"}, referral.WithMaxDepth(2))

	_, err := p.PlaceReferral(ctx, "u1", "u0")
	require.NoError(t, err)
	_, err = p.PlaceReferral(ctx, "u1b", "u0") // pushes u0's next child right
	require.NoError(t, err)
	_, err = p.PlaceReferral(ctx, "u2", "u1")
	require.NoError(t, err)

	res, err := p.PlaceReferral(ctx, "u3", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", res.ReferrerID)
	require.Len(t, res.Edges, 2, "depth 3 edge to u0 is beyond max depth")
	assert.Equal(t, "u2", res.Edges[0].ParentID)
	assert.Equal(t, 1, res.Edges[0].Depth)
	assert.Equal(t, "u1", res.Edges[1].ParentID)
	assert.Equal(t, 2, res.Edges[1].Depth)
	assert.Equal(t, referral.Left, res.Edges[1].Side, "upline edges keep the leg of the referrer")

	pending, err := s.Placements().FindPendingEdgesForChild(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, res.Edges, pending)

	u2Edges, err := s.Placements().EdgesForChild(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, u2Edges, 2)
	assert.Equal(t, "u0", u2Edges[1].ParentID)
	assert.Equal(t, referral.Left, u2Edges[1].Side)
}

func TestPlaceReferralSideInheritedFromLeg(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"root", "a", "b"})

	ra, err := p.PlaceReferral(ctx, "a", "root")
	require.NoError(t, err)
	rb, err := p.PlaceReferral(ctx, "b", "root")
	require.NoError(t, err)
	assert.Equal(t, referral.Left, ra.Side)
	assert.Equal(t, referral.Right, rb.Side)

	res, err := p.PlaceReferral(ctx, "bb", "b")
	require.NoError(t, err)
	require.Len(t, res.Edges, 2)
	assert.Equal(t, "root", res.Edges[1].ParentID)
	assert.Equal(t, referral.Right, res.Edges[1].Side)
}

func TestLeastFilledBalancesLegs(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"root", "a"})

	var sides []referral.Side
	for _, u := range []string{"a", "b"} {
		res, err := p.PlaceReferral(ctx, u, "root")
		require.NoError(t, err)
		sides = append(sides, res.Side)
	}
	// a's children grow root's left leg
	for _, u := range []string{"a1", "a2"} {
		_, err := p.PlaceReferral(ctx, u, "a")
		require.NoError(t, err)
	}
	res, err := p.PlaceReferral(ctx, "c", "root")
	require.NoError(t, err)
	sides = append(sides, res.Side)

	assert.Equal(t, []referral.Side{referral.Left, referral.Right, referral.Right}, sides)
}

func TestAlternatingSides(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	policy, err := referral.SidePolicyByName("alternating")
	require.NoError(t, err)
	p := newPlacer(s, []string{"root"}, referral.WithSidePolicy(policy))

	var sides []referral.Side
	for _, u := range []string{"a", "b", "c"} {
		res, err := p.PlaceReferral(ctx, u, "root")
		require.NoError(t, err)
		sides = append(sides, res.Side)
	}
	assert.Equal(t, []referral.Side{referral.Left, referral.Right, referral.Left}, sides)

	_, err = referral.SidePolicyByName("random")
	assert.Error(t, err)
}

func TestPlaceReferralRollsBackPartialEdges(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	p := newPlacer(s, []string{"root", "mid"})

	_, err := p.PlaceReferral(ctx, "mid", "root")
	require.NoError(t, err)

	boom := errors.New("write failed")
	// first Create is the direct edge, the second one fails
	s.FailNext("placements.Create", nil)
	s.FailNext("placements.Create", boom)

	_, err = p.PlaceReferral(ctx, "leaf", "mid")
	require.ErrorIs(t, err, boom)

	edges, err := s.Placements().EdgesForChild(ctx, "leaf")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
