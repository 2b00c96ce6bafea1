package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTipReceived         EntryType = "TIP_RECEIVED"
	EntryWithdrawalRequest   EntryType = "WITHDRAWAL_REQUEST"
	EntryWithdrawalCompleted EntryType = "WITHDRAWAL_COMPLETED"
	EntryWithdrawalFailed    EntryType = "WITHDRAWAL_FAILED"
	EntryGoalRelease         EntryType = "GOAL_RELEASE"
	EntryFee                 EntryType = "FEE"
)

// MovesFunds reports whether the entry moves money across the system
// boundary. Reservation and release entries only shuffle funds between
// tiers and net out to zero for the wallet as a whole.
func (t EntryType) MovesFunds() bool {
	return t == EntryTipReceived || t == EntryWithdrawalCompleted
}

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// LedgerEntry is an immutable record of one balance-affecting event.
// Rows are append-only; the unique (reference, entry_type) pair is the
// idempotency boundary for replayed gateway callbacks.
type LedgerEntry struct {
	ID           uint64          `gorm:"primaryKey"`
	UserID       uint64          `gorm:"index;not null"`
	EntryType    EntryType       `gorm:"size:32;not null;uniqueIndex:idx_ledger_ref_type"`
	Direction    Direction       `gorm:"size:8;not null"`
	GrossAmount  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	FeeAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	NetAmount    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Reference    string          `gorm:"size:64;not null;uniqueIndex:idx_ledger_ref_type"`
	Status       string          `gorm:"size:16;not null;default:'POSTED'"`
	CreatedAt    time.Time       `gorm:"autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "wallet_ledger" }
