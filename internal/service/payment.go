package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tipme/tipme-server/internal/metrics"
	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/mpesa"
	"github.com/tipme/tipme-server/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Gateway is the opaque dispatch capability of the mobile-money
// provider. External calls run outside any database lock.
type Gateway interface {
	STKPush(ctx context.Context, phone string, amount decimal.Decimal, reference string) (*mpesa.STKPushResponse, error)
	B2CPayment(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*mpesa.B2CResponse, error)
}

// PaymentService manages the lifecycle of inbound tips: intent
// creation, collection dispatch and idempotent callback reconciliation.
type PaymentService struct {
	repo    repo.RepositoryInterface
	engine  *LedgerEngine
	gateway Gateway
	feeRate decimal.Decimal
	log     *zap.SugaredLogger
}

func NewPaymentService(r repo.RepositoryInterface, engine *LedgerEngine, gw Gateway, feeRate decimal.Decimal, log *zap.SugaredLogger) *PaymentService {
	return &PaymentService{repo: r, engine: engine, gateway: gw, feeRate: feeRate, log: log}
}

// CreateIntent persists a CREATED intent, dispatches the collection
// request and stores the gateway's correlation id. No balance effect.
func (s *PaymentService) CreateIntent(ctx context.Context, userID uint64, phone string, amount decimal.Decimal) (*model.PaymentIntent, *mpesa.STKPushResponse, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, ErrInvalidAmount
	}
	if phone == "" {
		return nil, nil, ErrInvalidPhone
	}

	intent := &model.PaymentIntent{
		UserID:    userID,
		Phone:     phone,
		Amount:    amount,
		Reference: "TIP-" + uuid.NewString(),
		Status:    model.IntentCreated,
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, nil, err
	}

	// dispatch runs outside any lock; a slow gateway must not
	// serialize unrelated wallets
	resp, err := s.gateway.STKPush(ctx, phone, amount, intent.Reference)
	if err != nil {
		if uerr := s.repo.UpdateIntentStatus(ctx, s.repo.DB(ctx), intent.ID, model.IntentFailed); uerr != nil {
			s.log.Errorf("mark intent %d failed: %v", intent.ID, uerr)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if err := s.repo.SetIntentCheckoutID(ctx, intent.ID, resp.CheckoutRequestID); err != nil {
		return nil, nil, err
	}
	intent.CheckoutRequestID = &resp.CheckoutRequestID
	return intent, resp, nil
}

// HandleCollectionResult reconciles a collection callback. It derives
// the outcome purely from the callback payload and stored intent
// state, so gateway retries after a crash converge to the same result.
// Unknown and replayed callbacks are discarded, never errors.
func (s *PaymentService) HandleCollectionResult(ctx context.Context, cb *mpesa.STKCallback) error {
	intent, err := s.repo.GetIntentByCheckoutID(ctx, cb.CheckoutRequestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnf("collection callback for unknown checkout id %s, discarding", cb.CheckoutRequestID)
		metrics.GatewayCallbacks.WithLabelValues("collection", "unknown").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if intent.Status.Terminal() {
		metrics.GatewayCallbacks.WithLabelValues("collection", "duplicate").Inc()
		return nil
	}

	if cb.ResultCode != mpesa.ResultSuccess {
		return s.failIntent(ctx, intent, cb)
	}

	gross, okAmount := cb.Amount()
	receipt, okReceipt := cb.Receipt()
	if !okAmount || !okReceipt {
		s.log.Errorf("collection callback %s: success without amount/receipt metadata, discarding", cb.CheckoutRequestID)
		metrics.GatewayCallbacks.WithLabelValues("collection", "malformed").Inc()
		return nil
	}

	fee := gross.Mul(s.feeRate).Round(2)
	net := gross.Sub(fee)

	err = s.engine.WithRetry(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.GetIntentForUpdate(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		if locked.Status.Terminal() {
			return nil
		}
		if _, err := s.engine.PostTx(ctx, tx, Posting{
			UserID:            locked.UserID,
			Type:              model.EntryTipReceived,
			Direction:         model.DirectionCredit,
			Gross:             gross,
			Fee:               fee,
			Net:               net,
			Reference:         receipt,
			CreditPlatformFee: true,
			GoalDelta:         gross,
			CheckGoalRelease:  true,
		}); err != nil {
			return err
		}
		return s.repo.UpdateIntentStatus(ctx, tx, locked.ID, model.IntentConfirmed)
	})
	if errors.Is(err, repo.ErrDuplicateEntry) {
		// the posting committed on an earlier delivery but the intent
		// update was lost; converge the intent state
		metrics.DuplicateEvents.Inc()
		err = s.repo.UpdateIntentStatus(ctx, s.repo.DB(ctx), intent.ID, model.IntentConfirmed)
	}
	if err != nil {
		return err
	}

	metrics.GatewayCallbacks.WithLabelValues("collection", "confirmed").Inc()
	s.refreshWalletCache(ctx, intent.UserID)
	return nil
}

// failIntent records a non-success collection result. A timeout marks
// the intent EXPIRED, every other failure code marks it FAILED; there
// is no ledger or balance effect either way.
func (s *PaymentService) failIntent(ctx context.Context, intent *model.PaymentIntent, cb *mpesa.STKCallback) error {
	status := model.IntentFailed
	if cb.ResultCode == mpesa.ResultTimeout {
		status = model.IntentExpired
	}
	err := s.engine.WithRetry(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.GetIntentForUpdate(ctx, tx, intent.ID)
		if err != nil {
			return err
		}
		if locked.Status.Terminal() {
			return nil
		}
		return s.repo.UpdateIntentStatus(ctx, tx, locked.ID, status)
	})
	if err != nil {
		return err
	}
	s.log.Infow("collection failed",
		"reference", intent.Reference, "code", int(cb.ResultCode), "desc", cb.ResultDesc)
	metrics.GatewayCallbacks.WithLabelValues("collection", string(status)).Inc()
	return nil
}

// refreshWalletCache updates the display snapshot after a commit, best
// effort.
func (s *PaymentService) refreshWalletCache(ctx context.Context, userID uint64) {
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return
	}
	if err := s.repo.CacheWallet(ctx, w); err != nil {
		s.log.Warnf("cache wallet %d: %v", userID, err)
	}
}
