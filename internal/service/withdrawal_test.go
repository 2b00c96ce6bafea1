package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tipme/tipme-server/internal/model"
)

func TestWithdrawInsufficientFundsLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(201)
	env.seedWallet(t, userID, 100, 500, 0)

	_, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(500), "254712345678")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, env.gateway.b2cCalls)

	w := env.wallet(t, userID)
	assertDec(t, "100", w.AvailableBalance)
	assertDec(t, "500", w.PendingBalance)
	assertDec(t, "0", w.LockedBalance)
	assert.Empty(t, env.ledger(t, userID))

	var count int64
	assert.NoError(t, env.db.Model(&model.Withdrawal{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithdrawReservesThenCompletes(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(202)
	env.seedWallet(t, userID, 1000, 0, 0)
	env.seedProfile(t, userID, nil, 800)

	wd, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(400), "254712345678")
	assert.NoError(t, err)
	assert.Equal(t, model.WithdrawalProcessing, wd.Status)
	assert.NotNil(t, wd.OriginatorConversationID)

	w := env.wallet(t, userID)
	assertDec(t, "600", w.AvailableBalance)
	assertDec(t, "400", w.LockedBalance)

	res := b2cResult(t, *wd.OriginatorConversationID, 0, "REC8841XKQ", 400)
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))

	w = env.wallet(t, userID)
	assertDec(t, "600", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)

	var stored model.Withdrawal
	assert.NoError(t, env.db.First(&stored, wd.ID).Error)
	assert.Equal(t, model.WithdrawalCompleted, stored.Status)
	assert.NotNil(t, stored.GatewayRef)
	assert.Equal(t, "REC8841XKQ", *stored.GatewayRef)

	entries := env.ledger(t, userID)
	assert.Len(t, entries, 2)
	assert.Equal(t, model.EntryWithdrawalCompleted, entries[0].EntryType)
	assert.Equal(t, model.DirectionDebit, entries[0].Direction)
	assert.Equal(t, "REC8841XKQ", entries[0].Reference)
	assertDec(t, "600", entries[0].BalanceAfter)
	assert.Equal(t, model.EntryWithdrawalRequest, entries[1].EntryType)
	assert.Equal(t, wd.Reference(), entries[1].Reference)

	// the paid amount comes off the goal accumulator
	var p model.Profile
	assert.NoError(t, env.db.Where("user_id = ?", userID).First(&p).Error)
	assertDec(t, "400", p.GoalRaised)
}

func TestCompletionFloorsGoalRaisedAtZero(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(209)
	env.seedWallet(t, userID, 500, 0, 0)
	env.seedProfile(t, userID, nil, 100)

	wd, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(400), "254712345678")
	assert.NoError(t, err)

	res := b2cResult(t, *wd.OriginatorConversationID, 0, "REC8841XKT", 400)
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))

	var p model.Profile
	assert.NoError(t, env.db.Where("user_id = ?", userID).First(&p).Error)
	assert.True(t, p.GoalRaised.IsZero(), "goal_raised must floor at zero, got %s", p.GoalRaised.String())
	assert.False(t, p.GoalRaised.IsNegative())
}

func TestPayoutResultReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(203)
	env.seedWallet(t, userID, 300, 0, 0)

	wd, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(300), "254712345678")
	assert.NoError(t, err)

	res := b2cResult(t, *wd.OriginatorConversationID, 0, "REC8841XKR", 300)
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))

	w := env.wallet(t, userID)
	assertDec(t, "0", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)
	assert.Len(t, env.ledger(t, userID), 2)
}

func TestFailedPayoutReturnsReservation(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(204)
	env.seedWallet(t, userID, 1000, 0, 0)

	wd, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(250), "254712345678")
	assert.NoError(t, err)

	res := b2cResult(t, *wd.OriginatorConversationID, 1, "", 0)
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))

	w := env.wallet(t, userID)
	assertDec(t, "1000", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)

	var stored model.Withdrawal
	assert.NoError(t, env.db.First(&stored, wd.ID).Error)
	assert.Equal(t, model.WithdrawalFailed, stored.Status)

	entries := env.ledger(t, userID)
	assert.Len(t, entries, 2)
	assert.Equal(t, model.EntryWithdrawalFailed, entries[0].EntryType)
	assert.Equal(t, model.DirectionCredit, entries[0].Direction)
	assert.Equal(t, wd.Reference(), entries[0].Reference)
}

func TestPayoutTimeoutReturnsReservation(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(205)
	env.seedWallet(t, userID, 500, 0, 0)

	wd, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(200), "254712345678")
	assert.NoError(t, err)

	assert.NoError(t, env.withdrawals.HandlePayoutTimeout(env.ctx, *wd.OriginatorConversationID))

	w := env.wallet(t, userID)
	assertDec(t, "500", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)

	var stored model.Withdrawal
	assert.NoError(t, env.db.First(&stored, wd.ID).Error)
	assert.Equal(t, model.WithdrawalFailed, stored.Status)
}

func TestDispatchFailureReversesReservation(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(206)
	env.seedWallet(t, userID, 700, 0, 0)
	env.gateway.b2cErr = assert.AnError

	_, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(700), "254712345678")
	assert.ErrorIs(t, err, ErrGateway)

	w := env.wallet(t, userID)
	assertDec(t, "700", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)

	var stored model.Withdrawal
	assert.NoError(t, env.db.Where("user_id = ?", userID).First(&stored).Error)
	assert.Equal(t, model.WithdrawalFailed, stored.Status)
}

func TestUnknownPayoutResultIsDiscarded(t *testing.T) {
	env := newTestEnv(t)

	res := b2cResult(t, "29112-never-dispatched", 0, "REC8841XKS", 100)
	assert.NoError(t, env.withdrawals.HandlePayoutResult(env.ctx, res))

	var count int64
	assert.NoError(t, env.db.Model(&model.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithdrawValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.withdrawals.Create(env.ctx, 207, decimal.Zero, "254712345678")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.withdrawals.Create(env.ctx, 207, decimal.NewFromInt(100), "")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Zero(t, env.gateway.b2cCalls)
}

func TestBackToBackWithdrawalsCannotDoubleSpend(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(208)
	env.seedWallet(t, userID, 500, 0, 0)

	_, err := env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(400), "254712345678")
	assert.NoError(t, err)
	_, err = env.withdrawals.Create(env.ctx, userID, decimal.NewFromInt(400), "254712345678")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	w := env.wallet(t, userID)
	assertDec(t, "100", w.AvailableBalance)
	assertDec(t, "400", w.LockedBalance)
}
