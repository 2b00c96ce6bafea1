package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the three-tier balance for one user. Funds sit in
// pending until the profile goal releases them, in available once
// withdrawable, and in locked while an outbound payout is in flight.
type Wallet struct {
	ID               uint64          `gorm:"primaryKey"`
	UserID           uint64          `gorm:"uniqueIndex;not null"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	PendingBalance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	LockedBalance    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	Version          uint64          `gorm:"not null;default:0"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

// Total is the sum of all three tiers.
func (w *Wallet) Total() decimal.Decimal {
	return w.AvailableBalance.Add(w.PendingBalance).Add(w.LockedBalance)
}
