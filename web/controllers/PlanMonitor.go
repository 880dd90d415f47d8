package controllers

import (
	"context"
	"time"

	"go-referral/web/db"

	"go.uber.org/zap"
)

// PlanMonitor downgrades paid plans that have ended and tells the referral
// core the subscription lapsed. It returns how many users were downgraded.
func PlanMonitor(ctx context.Context) (int, error) {
	now := time.Now()

	var users []db.User
	err := db.DB.WithContext(ctx).
		Where("plan <> ? AND plan_end < ?", db.FreePlan, now).
		Find(&users).Error
	if err != nil {
		return 0, err
	}

	lapsed := 0
	for _, user := range users {
		err := db.DB.WithContext(ctx).Model(&db.User{}).
			Where("id = ? AND plan_end < ?", user.ID, now).
			Update("plan", db.FreePlan).Error
		if err != nil {
			deps.Logger.Warn("downgrade plan", zap.String("user", user.UUID), zap.Error(err))
			continue
		}
		if err := deps.Bridge.OnSubscriptionLapsed(ctx, user.UUID); err != nil {
			deps.Logger.Warn("mark subscription lapsed", zap.String("user", user.UUID), zap.Error(err))
			continue
		}
		lapsed++
	}
	return lapsed, nil
}
