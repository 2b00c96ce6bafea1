package service

import "errors"

// ErrInvalidAmount means a non-positive or malformed amount was passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrInvalidPhone means the destination phone is missing or malformed.
var ErrInvalidPhone = errors.New("invalid phone number")

// ErrInsufficientFunds means the available tier cannot cover the
// requested withdrawal. Nothing is mutated.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrNotFound means the referenced wallet, intent or withdrawal does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrGateway means the external dispatch failed. The operation is not
// retried automatically; the caller decides.
var ErrGateway = errors.New("gateway dispatch failed")

// ErrLockConflict means a hot wallet row stayed contended through the
// bounded retries. Prior state is fully consistent.
var ErrLockConflict = errors.New("wallet lock conflict")
