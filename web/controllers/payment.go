package controllers

import (
	"errors"
	"net/http"
	"time"

	"go-referral/referral"
	"go-referral/utils"
	"go-referral/web/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payment opens a pending order. With months > 0 the order pays for that
// many months of the plan, otherwise amount is a plain balance top-up.
func Payment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Amount   int    `json:"amount"` // in cents
		Months   int    `json:"months"`
		Currency string `json:"currency"`
		Method   string `json:"method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Months < 0 || req.Months > 36 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	amount := req.Amount
	if req.Months > 0 {
		amount = deps.Config.PlanPrice * req.Months
	}
	if amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	payment := db.Payment{
		OrderID:  utils.GenerateUUID(),
		UserID:   user.ID,
		Amount:   amount,
		Months:   req.Months,
		Currency: req.Currency,
		Method:   req.Method,
		Status:   db.PaymentPending,
	}
	if err := db.DB.WithContext(c.Request.Context()).Create(&payment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Payment submitted", "order_id": payment.OrderID, "amount": amount})
}

var errPaymentNotFound = errors.New("payment not found")

// Callback confirms an order. The amount is credited to the balance and,
// for plan orders, spent on the plan. Repeated callbacks change nothing.
func Callback(c *gin.Context) {
	orderID := c.Query("order_id")
	ctx := c.Request.Context()

	var ev *referral.ActivationEvent
	already := false
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment db.Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).First(&payment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errPaymentNotFound
		}
		if err != nil {
			return err
		}
		if payment.Status == db.PaymentPaid {
			already = true
			return nil
		}

		now := time.Now()
		payment.Status = db.PaymentPaid
		payment.PaidAt = &now
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}

		user, err := lockUser(tx, payment.UserID)
		if err != nil {
			return err
		}
		user.Balance += payment.Amount

		if payment.Months > 0 {
			user.Balance -= payment.Amount
			ev, err = applyPlan(ctx, tx, &user, payment.Months)
			return err
		}
		return tx.Save(&user).Error
	})

	switch {
	case errors.Is(err, errPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	case err != nil:
		deps.Logger.Error("payment callback failed", zap.String("order", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update payment"})
		return
	case already:
		c.JSON(http.StatusOK, gin.H{"message": "Payment already processed"})
		return
	}

	dispatch(ctx, ev)
	c.JSON(http.StatusOK, gin.H{"message": "Payment status updated"})
}

func GetPaymentStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var payment db.Payment
	err := db.DB.WithContext(c.Request.Context()).
		Where("order_id = ? AND user_id = ?", c.Param("order_id"), user.ID).
		First(&payment).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": payment.OrderID, "status": payment.Status})
}

func ListPayments(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var payments []db.Payment
	err := db.DB.WithContext(c.Request.Context()).
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}
