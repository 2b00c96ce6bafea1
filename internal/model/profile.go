package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile carries the funding-goal fields the ledger consumes. The
// rest of profile management lives outside this service; the posting
// engine only reads and adjusts goal_amount/goal_raised under lock.
type Profile struct {
	ID          uint64           `gorm:"primaryKey"`
	UserID      uint64           `gorm:"uniqueIndex;not null"`
	Username    string           `gorm:"size:64;index"`
	DisplayName string           `gorm:"size:128"`
	GoalAmount  *decimal.Decimal `gorm:"type:numeric(20,2)"`
	GoalRaised  decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:'0'"`
	Status      string           `gorm:"size:16;not null;default:'ACTIVE'"`
	CreatedAt   time.Time        `gorm:"autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime"`
}

func (Profile) TableName() string { return "profiles" }
