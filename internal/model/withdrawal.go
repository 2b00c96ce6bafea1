package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "REQUESTED"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// Withdrawal is one payout attempt. The amount is reserved in the
// wallet's locked tier from creation until the gateway result resolves
// it. Conversation ids from the dispatch response correlate the
// asynchronous result callback.
type Withdrawal struct {
	ID                       uint64           `gorm:"primaryKey"`
	UserID                   uint64           `gorm:"index;not null"`
	Amount                   decimal.Decimal  `gorm:"type:numeric(20,2);not null"`
	Phone                    string           `gorm:"size:20;not null"`
	Status                   WithdrawalStatus `gorm:"size:16;not null;default:'REQUESTED'"`
	GatewayRef               *string          `gorm:"size:64"`
	ConversationID           *string          `gorm:"size:64"`
	OriginatorConversationID *string          `gorm:"size:64;index"`
	CreatedAt                time.Time        `gorm:"autoCreateTime"`
	UpdatedAt                time.Time        `gorm:"autoUpdateTime"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

// Reference is the internal correlation id carried in ledger entries
// and in the payout request's remarks/occasion fields.
func (w *Withdrawal) Reference() string {
	return "WD-" + strconv.FormatUint(w.ID, 10)
}
