package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-referral/referral"
	"go-referral/web/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const renewCycle = 31 * 24 * time.Hour

var errInsufficientBalance = errors.New("insufficient balance")

// extendPlan adds months of the paid plan to user. It reports true when the
// user had no running paid plan before, i.e. the subscription was activated.
func extendPlan(user *db.User, planName string, months int, now time.Time) bool {
	activated := !user.HasActivePlan(now)
	if activated {
		user.PlanStart = now
		user.PlanEnd = now.AddDate(0, months, 0)
	} else {
		user.PlanEnd = user.PlanEnd.AddDate(0, months, 0)
	}
	user.Plan = planName
	user.RenewCycle = int64(renewCycle)
	user.NextRenew = now.Add(renewCycle)
	return activated
}

// applyPlan saves the extended plan inside tx and, on activation, queues the
// referral event in the same transaction. The returned event is nil when
// there is nothing to dispatch.
func applyPlan(ctx context.Context, tx *gorm.DB, user *db.User, months int) (*referral.ActivationEvent, error) {
	activated := extendPlan(user, deps.Config.PlanName, months, time.Now())
	if err := tx.Save(user).Error; err != nil {
		return nil, err
	}
	if !activated {
		return nil, nil
	}
	ev, err := deps.Bridge.Accept(ctx, deps.TxStore(tx), user.UUID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// dispatch runs the referral engine for a committed activation. A failure
// leaves the event queued for the retry job.
func dispatch(ctx context.Context, ev *referral.ActivationEvent) {
	if ev == nil {
		return
	}
	if err := deps.Bridge.Dispatch(ctx, *ev); err != nil {
		deps.Logger.Warn("activation left for retry", zap.String("event", ev.ID), zap.Error(err))
	}
}

func lockUser(tx *gorm.DB, id uint) (db.User, error) {
	var user db.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error
	if err != nil {
		return db.User{}, fmt.Errorf("user not found: %w", err)
	}
	return user, nil
}

func Subscribe(c *gin.Context) {
	var req struct {
		Duration int `json:"duration"` // in months
	}

	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := c.ShouldBindJSON(&req); err != nil || req.Duration < 1 || req.Duration > 36 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration must be between 1 and 36 months"})
		return
	}

	cost := deps.Config.PlanPrice * req.Duration
	ctx := c.Request.Context()

	var ev *referral.ActivationEvent
	var saved db.User
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockUser(tx, user.ID)
		if err != nil {
			return err
		}
		if locked.Balance < cost {
			return errInsufficientBalance
		}
		locked.Balance -= cost
		ev, err = applyPlan(ctx, tx, &locked, req.Duration)
		saved = locked
		return err
	})

	switch {
	case errors.Is(err, errInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient balance"})
		return
	case err != nil:
		deps.Logger.Error("subscribe failed", zap.String("user", user.UUID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}

	dispatch(ctx, ev)

	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"plan":     saved.Plan,
		"plan_end": saved.PlanEnd.Format(time.RFC3339),
		"balance":  saved.Balance,
	})
}
