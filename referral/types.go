package referral

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

func (s Side) Valid() bool {
	return s == Left || s == Right
}

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Left, Right:
		return Side(s), nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

type Status string

const (
	Pending  Status = "pending"
	Finished Status = "finished"
)

// Placement is one ancestor/descendant compensation edge. Depth 1 is the
// direct referrer; deeper edges are the referrer's upline.
type Placement struct {
	ParentID    string     `json:"parent_id"`
	ChildID     string     `json:"child_id"`
	Side        Side       `json:"side"`
	Depth       int        `json:"depth"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LevelRecord tracks fill progress of one user on one level. A record with
// PromotedAt set is closed.
type LevelRecord struct {
	UserID     string     `json:"user_id"`
	Level      int        `json:"level"`
	LeftCount  int        `json:"left_count"`
	RightCount int        `json:"right_count"`
	Threshold  int        `json:"threshold"`
	PromotedAt *time.Time `json:"promoted_at,omitempty"`
}

func (r LevelRecord) Count(side Side) int {
	if side == Right {
		return r.RightCount
	}
	return r.LeftCount
}

func (r LevelRecord) Promotable() bool {
	return r.PromotedAt == nil && r.LeftCount >= r.Threshold && r.RightCount >= r.Threshold
}

type EarningRecord struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Level      int             `json:"level"`
	Side       Side            `json:"side"`
	FromUserID string          `json:"from_user_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

type AccountSummary struct {
	UserID             string          `json:"user_id"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	ActiveSubscription bool            `json:"active_subscription"`
	ActivatedAt        *time.Time      `json:"activated_at,omitempty"`
}

type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventDone    EventStatus = "done"
	EventFailed  EventStatus = "failed"
	EventDead    EventStatus = "dead"
)

// ActivationEvent is a received "subscription activated" signal, kept until
// the engine has processed it.
type ActivationEvent struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Status      EventStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

type PlacementResult struct {
	ReferrerID string      `json:"referrer_id"`
	Side       Side        `json:"side"`
	Edges      []Placement `json:"edges"`
}

type LevelStatus struct {
	UserID             string          `json:"user_id"`
	Level              int             `json:"level"`
	LeftCount          int             `json:"left_count"`
	RightCount         int             `json:"right_count"`
	Threshold          int             `json:"threshold"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	ActiveSubscription bool            `json:"active_subscription"`
}
