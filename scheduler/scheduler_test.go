package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStartRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	_, err := Start(ctx, zap.NewNop(), Job{
		Name: "tick",
		Spec: "@every 1s",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsBadSpec(t *testing.T) {
	_, err := Start(context.Background(), zap.NewNop(), Job{
		Name: "broken",
		Spec: "every now and then",
		Run:  func(context.Context) error { return nil },
	})
	assert.ErrorContains(t, err, "schedule broken")
}
