package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tipme/tipme-server/internal/model"
)

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w, err := decimal.NewFromString(want)
	assert.NoError(t, err)
	assert.Truef(t, w.Equal(got), "want %s, got %s", want, got.String())
}

func TestTipConfirmSkimsFeeIntoPending(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(101)

	intent, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(1000))
	assert.NoError(t, err)
	assert.Equal(t, model.IntentCreated, intent.Status)
	assert.NotEmpty(t, resp.CheckoutRequestID)

	cb := stkSuccessCallback(t, resp.CheckoutRequestID, 1000, "SGH3KL92XQ")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	w := env.wallet(t, userID)
	assertDec(t, "950", w.PendingBalance)
	assertDec(t, "0", w.AvailableBalance)
	assertDec(t, "0", w.LockedBalance)

	entries := env.ledger(t, userID)
	assert.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, model.EntryTipReceived, e.EntryType)
	assert.Equal(t, model.DirectionCredit, e.Direction)
	assertDec(t, "1000", e.GrossAmount)
	assertDec(t, "50", e.FeeAmount)
	assertDec(t, "950", e.NetAmount)
	assertDec(t, "950", e.BalanceAfter)
	assert.Equal(t, "SGH3KL92XQ", e.Reference)

	pw, err := env.repo.GetPlatformWallet(env.ctx)
	assert.NoError(t, err)
	assertDec(t, "50", pw.Balance)
	platformEntries, err := env.repo.ListPlatformLedger(env.ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, platformEntries, 1)
	assert.Equal(t, model.EntryFee, platformEntries[0].EntryType)
	assertDec(t, "50", platformEntries[0].Amount)
	assert.Equal(t, "SGH3KL92XQ", platformEntries[0].Reference)

	stored, err := env.repo.GetIntentByCheckoutID(env.ctx, resp.CheckoutRequestID)
	assert.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, stored.Status)
}

func TestTipCallbackReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(102)

	_, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(500))
	assert.NoError(t, err)

	cb := stkSuccessCallback(t, resp.CheckoutRequestID, 500, "SGH3KL92XR")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	w := env.wallet(t, userID)
	assertDec(t, "475", w.PendingBalance)

	entries := env.ledger(t, userID)
	assert.Len(t, entries, 1)

	pw, err := env.repo.GetPlatformWallet(env.ctx)
	assert.NoError(t, err)
	assertDec(t, "25", pw.Balance)
}

func TestGoalReleasePromotesPendingToAvailable(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(103)
	goal := int64(500)
	env.seedProfile(t, userID, &goal, 0)

	_, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(600))
	assert.NoError(t, err)
	cb := stkSuccessCallback(t, resp.CheckoutRequestID, 600, "SGH3KL92XS")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	w := env.wallet(t, userID)
	assertDec(t, "570", w.AvailableBalance)
	assertDec(t, "0", w.PendingBalance)

	entries := env.ledger(t, userID)
	assert.Len(t, entries, 2)
	// newest first
	assert.Equal(t, model.EntryGoalRelease, entries[0].EntryType)
	assertDec(t, "570", entries[0].NetAmount)
	assert.Equal(t, "GOAL-SGH3KL92XS", entries[0].Reference)
	assertDec(t, "570", entries[0].BalanceAfter)
	assert.Equal(t, model.EntryTipReceived, entries[1].EntryType)

	var p model.Profile
	assert.NoError(t, env.db.Where("user_id = ?", userID).First(&p).Error)
	assertDec(t, "600", p.GoalRaised)
}

func TestTipBelowGoalStaysPending(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(104)
	goal := int64(5000)
	env.seedProfile(t, userID, &goal, 0)

	_, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(600))
	assert.NoError(t, err)
	cb := stkSuccessCallback(t, resp.CheckoutRequestID, 600, "SGH3KL92XT")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	w := env.wallet(t, userID)
	assertDec(t, "570", w.PendingBalance)
	assertDec(t, "0", w.AvailableBalance)
	assert.Len(t, env.ledger(t, userID), 1)

	var p model.Profile
	assert.NoError(t, env.db.Where("user_id = ?", userID).First(&p).Error)
	assertDec(t, "600", p.GoalRaised)
}

func TestCancelledCollectionMarksIntentFailed(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(105)

	_, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(200))
	assert.NoError(t, err)

	cb := stkFailureCallback(t, resp.CheckoutRequestID, 1032, "Request cancelled by user")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	stored, err := env.repo.GetIntentByCheckoutID(env.ctx, resp.CheckoutRequestID)
	assert.NoError(t, err)
	assert.Equal(t, model.IntentFailed, stored.Status)
	assert.Empty(t, env.ledger(t, userID))

	// a late success replay for a terminal intent is discarded
	late := stkSuccessCallback(t, resp.CheckoutRequestID, 200, "SGH3KL92XU")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, late))
	assert.Empty(t, env.ledger(t, userID))
}

func TestTimedOutCollectionMarksIntentExpired(t *testing.T) {
	env := newTestEnv(t)
	const userID = uint64(106)

	_, resp, err := env.payments.CreateIntent(env.ctx, userID, "254712345678", decimal.NewFromInt(200))
	assert.NoError(t, err)

	cb := stkFailureCallback(t, resp.CheckoutRequestID, 1037, "DS timeout user cannot be reached")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	stored, err := env.repo.GetIntentByCheckoutID(env.ctx, resp.CheckoutRequestID)
	assert.NoError(t, err)
	assert.Equal(t, model.IntentExpired, stored.Status)
}

func TestUnknownCollectionCallbackIsDiscarded(t *testing.T) {
	env := newTestEnv(t)

	cb := stkSuccessCallback(t, "ws_CO_never_dispatched", 999, "SGH3KL92XV")
	assert.NoError(t, env.payments.HandleCollectionResult(env.ctx, cb))

	var count int64
	assert.NoError(t, env.db.Model(&model.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateIntentValidation(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.payments.CreateIntent(env.ctx, 107, "254712345678", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = env.payments.CreateIntent(env.ctx, 107, "254712345678", decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = env.payments.CreateIntent(env.ctx, 107, "", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Zero(t, env.gateway.stkCalls)
}

func TestCreateIntentDispatchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.stkErr = assert.AnError

	_, _, err := env.payments.CreateIntent(env.ctx, 108, "254712345678", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrGateway)

	var intent model.PaymentIntent
	assert.NoError(t, env.db.Where("user_id = ?", 108).First(&intent).Error)
	assert.Equal(t, model.IntentFailed, intent.Status)
}
