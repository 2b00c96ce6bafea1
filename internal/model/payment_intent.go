package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentCreated   IntentStatus = "CREATED"
	IntentConfirmed IntentStatus = "CONFIRMED"
	IntentFailed    IntentStatus = "FAILED"
	IntentExpired   IntentStatus = "EXPIRED"
)

// Terminal reports whether the intent can no longer transition.
func (s IntentStatus) Terminal() bool {
	return s == IntentConfirmed || s == IntentFailed || s == IntentExpired
}

// PaymentIntent is one attempted inbound tip. The reference travels to
// the gateway as the account reference; the CheckoutRequestID returned
// by the dispatch is the durable correlation key for the callback.
type PaymentIntent struct {
	ID                uint64          `gorm:"primaryKey"`
	UserID            uint64          `gorm:"index;not null"`
	Phone             string          `gorm:"size:20;not null"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Reference         string          `gorm:"size:64;uniqueIndex;not null"`
	CheckoutRequestID *string         `gorm:"size:64;index"`
	Status            IntentStatus    `gorm:"size:16;not null;default:'CREATED'"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }
