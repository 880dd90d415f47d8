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
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RedeemVoucher applies a voucher to the user. Plan vouchers can activate
// the subscription, in which case the activation event is returned.
func RedeemVoucher(ctx context.Context, userID uint, code string) (*referral.ActivationEvent, error) {
	var ev *referral.ActivationEvent
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		var voucher db.Voucher
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).First(&voucher).Error; err != nil {
			return fmt.Errorf("voucher not found: %w", err)
		}

		if voucher.IsUsed {
			return errors.New("voucher already used")
		}
		now := time.Now()
		if now.After(voucher.ExpiresAt) {
			return errors.New("voucher expired")
		}

		switch voucher.Type {
		case db.VoucherBalance:
			user.Balance += voucher.Amount
			if err := tx.Save(&user).Error; err != nil {
				return err
			}
		case db.VoucherPlan:
			if ev, err = applyPlan(ctx, tx, &user, voucher.PlanDuration); err != nil {
				return err
			}
		default:
			return errors.New("unknown voucher type")
		}

		voucher.IsUsed = true
		voucher.RedeemedBy = user.ID
		voucher.RedeemedAt = &now
		return tx.Save(&voucher).Error
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func Redeem(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ev, err := RedeemVoucher(c.Request.Context(), user.ID, req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dispatch(c.Request.Context(), ev)
	c.JSON(http.StatusOK, gin.H{"message": "Voucher redeemed successfully"})
}

func GenerateVoucher(c *gin.Context) {
	var req struct {
		Code         string `json:"code"`
		Type         string `json:"type"` // "balance" or "plan"
		Description  string `json:"description"`
		ExpiresAt    string `json:"expires_at"`    // RFC3339
		Amount       int    `json:"amount"`        // in cents, balance vouchers
		PlanDuration int    `json:"plan_duration"` // in months, plan vouchers
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	switch {
	case req.Type == db.VoucherBalance && req.Amount > 0:
	case req.Type == db.VoucherPlan && req.PlanDuration > 0:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "voucher needs a type and a positive amount or plan duration"})
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expiration date"})
		return
	}

	voucher := db.Voucher{
		Code:         req.Code,
		Type:         req.Type,
		Description:  req.Description,
		ExpiresAt:    expiresAt,
		Amount:       req.Amount,
		PlanName:     deps.Config.PlanName,
		PlanDuration: req.PlanDuration,
	}
	if err := db.DB.WithContext(c.Request.Context()).Create(&voucher).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create voucher"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Voucher created successfully", "voucher": voucher})
}
