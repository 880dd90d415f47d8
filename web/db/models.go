package db

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email    string `gorm:"unique;size:191"`
	UUID     string `gorm:"uniqueIndex;size:64"`
	Password string

	ReferralCode string `gorm:"uniqueIndex;size:16"`
	ReferredBy   string `gorm:"size:64"` // UUID of the direct referrer

	Plan       string
	PlanStart  time.Time
	PlanEnd    time.Time
	RenewCycle int64 // nanoseconds between renewals
	NextRenew  time.Time

	Balance int // in cents

	IsVerified  bool
	VerifyToken string `gorm:"index;size:64"`
	TokenExpiry time.Time
}

const (
	FreePlan = "Free plan"

	PaymentPending = "pending"
	PaymentPaid    = "paid"

	VoucherBalance = "balance"
	VoucherPlan    = "plan"
)

// Payment is a top-up that pays for Months of the plan once confirmed.
type Payment struct {
	gorm.Model
	OrderID  string `gorm:"uniqueIndex;size:36"`
	UserID   uint   `gorm:"index"`
	Amount   int    // in cents
	Currency string `gorm:"size:8"`
	Method   string `gorm:"size:16"`
	Months   int
	Status   string `gorm:"size:16"`
	PaidAt   *time.Time
}

type Voucher struct {
	gorm.Model
	Code         string `gorm:"uniqueIndex;size:64"`
	Type         string `gorm:"size:16"`
	Description  string
	ExpiresAt    time.Time
	Amount       int // in cents, balance vouchers
	PlanName     string
	PlanDuration int // in months, plan vouchers
	IsUsed       bool
	RedeemedBy   uint
	RedeemedAt   *time.Time
}

// HasActivePlan reports whether the user is on a paid plan that has not ended.
func (u User) HasActivePlan(now time.Time) bool {
	return u.Plan != "" && u.Plan != FreePlan && u.PlanEnd.After(now)
}
