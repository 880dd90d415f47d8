package referral_test

import (
	"testing"

	"go-referral/referral"

	"github.com/stretchr/testify/assert"
)

func TestThresholdPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy referral.ThresholdPolicy
		level  int
		want   int
	}{
		{"default level 1", referral.DefaultThresholdPolicy(), 1, 2},
		{"default level 2", referral.DefaultThresholdPolicy(), 2, 4},
		{"default level 4", referral.DefaultThresholdPolicy(), 4, 16},
		{"default capped", referral.DefaultThresholdPolicy(), 40, 1024},
		{"flat", referral.ThresholdPolicy{Base: 4, Factor: 1}, 7, 4},
		{"level below one", referral.ThresholdPolicy{Base: 3, Factor: 2}, 0, 3},
		{"zero base", referral.ThresholdPolicy{}, 5, 1},
		{"cap below base", referral.ThresholdPolicy{Base: 10, Factor: 2, Max: 6}, 1, 6},
		{"uncapped stays bounded", referral.ThresholdPolicy{Base: 2, Factor: 10}, 100, 2_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Threshold(tt.level))
		})
	}
}
