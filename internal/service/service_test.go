package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/tipme/tipme-server/internal/logger"
	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/mpesa"
	"github.com/tipme/tipme-server/internal/repo"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// stubGateway records dispatches and fabricates correlation ids the
// way the sandbox does.
type stubGateway struct {
	stkErr   error
	b2cErr   error
	stkCalls int
	b2cCalls int
}

func (g *stubGateway) STKPush(ctx context.Context, phone string, amount decimal.Decimal, reference string) (*mpesa.STKPushResponse, error) {
	g.stkCalls++
	if g.stkErr != nil {
		return nil, g.stkErr
	}
	return &mpesa.STKPushResponse{
		MerchantRequestID: fmt.Sprintf("29115-34620561-%d", g.stkCalls),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%s_%d", reference, g.stkCalls),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *stubGateway) B2CPayment(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*mpesa.B2CResponse, error) {
	g.b2cCalls++
	if g.b2cErr != nil {
		return nil, g.b2cErr
	}
	return &mpesa.B2CResponse{
		ConversationID:           fmt.Sprintf("AG_2026_%s_%d", remarks, g.b2cCalls),
		OriginatorConversationID: fmt.Sprintf("29112-34801843-%s-%d", remarks, g.b2cCalls),
		ResponseCode:             "0",
	}, nil
}

type testEnv struct {
	db          *gorm.DB
	repo        *repo.Repository
	engine      *LedgerEngine
	payments    *PaymentService
	withdrawals *WithdrawalService
	gateway     *stubGateway
	ctx         context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.Wallet{},
		&model.LedgerEntry{},
		&model.PaymentIntent{},
		&model.Withdrawal{},
		&model.PlatformWallet{},
		&model.PlatformLedgerEntry{},
		&model.Profile{},
		&model.OutboxEvent{},
	))

	rdb, _ := redismock.NewClientMock() // cache misses degrade gracefully
	log, _ := logger.NewLogger()
	r := repo.NewRepository(db, rdb, nil, log)
	engine := NewLedgerEngine(r, log)
	gw := &stubGateway{}

	return &testEnv{
		db:          db,
		repo:        r,
		engine:      engine,
		payments:    NewPaymentService(r, engine, gw, decimal.NewFromFloat(0.05), log),
		withdrawals: NewWithdrawalService(r, engine, gw, 0, log),
		gateway:     gw,
		ctx:         context.Background(),
	}
}

func (e *testEnv) seedWallet(t *testing.T, userID uint64, available, pending, locked int64) {
	t.Helper()
	assert.NoError(t, e.db.Create(&model.Wallet{
		UserID:           userID,
		AvailableBalance: decimal.NewFromInt(available),
		PendingBalance:   decimal.NewFromInt(pending),
		LockedBalance:    decimal.NewFromInt(locked),
	}).Error)
}

func (e *testEnv) seedProfile(t *testing.T, userID uint64, goalAmount *int64, goalRaised int64) {
	t.Helper()
	p := &model.Profile{UserID: userID, GoalRaised: decimal.NewFromInt(goalRaised)}
	if goalAmount != nil {
		d := decimal.NewFromInt(*goalAmount)
		p.GoalAmount = &d
	}
	assert.NoError(t, e.db.Create(p).Error)
}

func (e *testEnv) wallet(t *testing.T, userID uint64) *model.Wallet {
	t.Helper()
	w, err := e.repo.GetWallet(e.ctx, userID)
	assert.NoError(t, err)
	return w
}

func (e *testEnv) ledger(t *testing.T, userID uint64) []model.LedgerEntry {
	t.Helper()
	entries, err := e.repo.ListLedger(e.ctx, userID, 100)
	assert.NoError(t, err)
	return entries
}

// stkSuccessCallback builds a realistic gateway success body and
// parses it through the same envelope the handler uses.
func stkSuccessCallback(t *testing.T, checkoutID string, amount float64, receipt string) *mpesa.STKCallback {
	t.Helper()
	body := fmt.Sprintf(`{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "29115-34620561-1",
	      "CheckoutRequestID": %q,
	      "ResultCode": 0,
	      "ResultDesc": "The service request is processed successfully.",
	      "CallbackMetadata": {
	        "Item": [
	          {"Name": "Amount", "Value": %v},
	          {"Name": "MpesaReceiptNumber", "Value": %q},
	          {"Name": "TransactionDate", "Value": 20260828101530},
	          {"Name": "PhoneNumber", "Value": 254712345678}
	        ]
	      }
	    }
	  }
	}`, checkoutID, amount, receipt)
	var env mpesa.STKCallbackEnvelope
	assert.NoError(t, json.Unmarshal([]byte(body), &env))
	return &env.Body.STKCallback
}

func stkFailureCallback(t *testing.T, checkoutID string, code int, desc string) *mpesa.STKCallback {
	t.Helper()
	body := fmt.Sprintf(`{
	  "Body": {
	    "stkCallback": {
	      "MerchantRequestID": "29115-34620561-1",
	      "CheckoutRequestID": %q,
	      "ResultCode": %d,
	      "ResultDesc": %q
	    }
	  }
	}`, checkoutID, code, desc)
	var env mpesa.STKCallbackEnvelope
	assert.NoError(t, json.Unmarshal([]byte(body), &env))
	return &env.Body.STKCallback
}

func b2cResult(t *testing.T, originatorID string, code int, receipt string, amount float64) *mpesa.B2CResult {
	t.Helper()
	body := fmt.Sprintf(`{
	  "Result": {
	    "ResultType": 0,
	    "ResultCode": %d,
	    "ResultDesc": "The service request is processed successfully.",
	    "OriginatorConversationID": %q,
	    "ConversationID": "AG_20260828_00004e48cf7e3533f581",
	    "TransactionID": %q,
	    "ResultParameters": {
	      "ResultParameter": [
	        {"Name": "TransactionAmount", "Value": %v},
	        {"Name": "TransactionReceipt", "Value": %q},
	        {"Name": "B2CChargesPaidAccountAvailableFunds", "Value": 0}
	      ]
	    }
	  }
	}`, code, originatorID, receipt, amount, receipt)
	var env mpesa.B2CResultEnvelope
	assert.NoError(t, json.Unmarshal([]byte(body), &env))
	return &env.Result
}
