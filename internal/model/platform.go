package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformWalletID is the singleton platform aggregate row.
const PlatformWalletID uint64 = 1

// PlatformWallet accumulates the fees skimmed from inbound tips.
type PlatformWallet struct {
	ID        uint64          `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (PlatformWallet) TableName() string { return "platform_wallet" }

// PlatformLedgerEntry mirrors the fee portion of a user-side
// TIP_RECEIVED entry, keyed by the same external receipt so both books
// reconcile to the same event.
type PlatformLedgerEntry struct {
	ID        uint64          `gorm:"primaryKey"`
	EntryType EntryType       `gorm:"size:32;not null"`
	Direction Direction       `gorm:"size:8;not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Reference string          `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

func (PlatformLedgerEntry) TableName() string { return "platform_ledger" }
