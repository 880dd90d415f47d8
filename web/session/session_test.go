package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "tok", "user-1", time.Hour))

	userID, err := s.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	now = now.Add(time.Hour)
	_, err = s.Lookup(ctx, "tok")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestMemoryStoreRevokeAndSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "a", "u1", time.Minute))
	require.NoError(t, s.Put(ctx, "b", "u2", time.Hour))
	require.NoError(t, s.Revoke(ctx, "b"))

	_, err := s.Lookup(ctx, "b")
	assert.ErrorIs(t, err, ErrUnknownToken)

	now = now.Add(2 * time.Minute)
	s.sweep()
	assert.Empty(t, s.sessions)
}

func TestConnectParsesURL(t *testing.T) {
	c, err := Connect("redis://:secret@localhost:6380/2", "")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "localhost:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	_, err = Connect("redis://%zz", "")
	assert.Error(t, err)
}
