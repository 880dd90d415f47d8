package gormstore

import (
	"time"

	"go-referral/referral"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type placementModel struct {
	ParentID      string  `gorm:"primaryKey;size:64;index:idx_parent_side,priority:1"`
	ChildID       string  `gorm:"primaryKey;size:64;index:idx_child_status,priority:1"`
	Side          string  `gorm:"size:8;not null;index:idx_parent_side,priority:2"`
	Depth         int     `gorm:"not null"`
	// DirectChildID repeats ChildID on depth-1 edges only, so the unique
	// index allows one direct referrer per user. NULLs do not collide.
	DirectChildID *string `gorm:"size:64;uniqueIndex:uniq_direct_child"`
	Status        string  `gorm:"size:16;not null;index:idx_child_status,priority:2"`
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func (placementModel) TableName() string { return "referral_placements" }

func (m placementModel) toDomain() referral.Placement {
	return referral.Placement{
		ParentID:    m.ParentID,
		ChildID:     m.ChildID,
		Side:        referral.Side(m.Side),
		Depth:       m.Depth,
		Status:      referral.Status(m.Status),
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
}

type levelModel struct {
	UserID     string `gorm:"primaryKey;size:64"`
	Level      int    `gorm:"primaryKey;autoIncrement:false"`
	LeftCount  int    `gorm:"not null;default:0"`
	RightCount int    `gorm:"not null;default:0"`
	Threshold  int    `gorm:"not null"`
	PromotedAt *time.Time
}

func (levelModel) TableName() string { return "referral_levels" }

func (m levelModel) toDomain() referral.LevelRecord {
	return referral.LevelRecord{
		UserID:     m.UserID,
		Level:      m.Level,
		LeftCount:  m.LeftCount,
		RightCount: m.RightCount,
		Threshold:  m.Threshold,
		PromotedAt: m.PromotedAt,
	}
}

type earningModel struct {
	ID         string          `gorm:"primaryKey;size:36"`
	UserID     string          `gorm:"size:64;not null;index:idx_earning_user_level_side,priority:1"`
	Level      int             `gorm:"not null;index:idx_earning_user_level_side,priority:2"`
	Side       string          `gorm:"size:8;not null;index:idx_earning_user_level_side,priority:3"`
	FromUserID string          `gorm:"size:64;not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	CreatedAt  time.Time       `gorm:"index"`
}

func (earningModel) TableName() string { return "referral_earnings" }

func (m earningModel) toDomain() referral.EarningRecord {
	return referral.EarningRecord{
		ID:         m.ID,
		UserID:     m.UserID,
		Level:      m.Level,
		Side:       referral.Side(m.Side),
		FromUserID: m.FromUserID,
		Amount:     m.Amount,
		CreatedAt:  m.CreatedAt,
	}
}

type accountModel struct {
	UserID             string          `gorm:"primaryKey;size:64"`
	TotalEarnings      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0"`
	ActiveSubscription bool            `gorm:"not null;default:false"`
	ActivatedAt        *time.Time
	UpdatedAt          time.Time
}

func (accountModel) TableName() string { return "referral_accounts" }

func (m accountModel) toDomain() referral.AccountSummary {
	return referral.AccountSummary{
		UserID:             m.UserID,
		TotalEarnings:      m.TotalEarnings,
		ActiveSubscription: m.ActiveSubscription,
		ActivatedAt:        m.ActivatedAt,
	}
}

type eventModel struct {
	ID          string     `gorm:"primaryKey;size:36"`
	UserID      string     `gorm:"size:64;not null;index"`
	Status      string     `gorm:"size:16;not null;index:idx_event_status_created,priority:1"`
	Attempts    int        `gorm:"not null;default:0"`
	LastError   string     `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"index:idx_event_status_created,priority:2"`
	ProcessedAt *time.Time
}

func (eventModel) TableName() string { return "referral_activation_events" }

func (m eventModel) toDomain() referral.ActivationEvent {
	return referral.ActivationEvent{
		ID:          m.ID,
		UserID:      m.UserID,
		Status:      referral.EventStatus(m.Status),
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		ProcessedAt: m.ProcessedAt,
	}
}

// Migrate creates or updates the referral tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&placementModel{},
		&levelModel{},
		&earningModel{},
		&accountModel{},
		&eventModel{},
	)
}
