package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tipme/tipme-server/internal/metrics"
	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/mpesa"
	"github.com/tipme/tipme-server/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WithdrawalService manages payouts: fund reservation, dispatch and
// idempotent result reconciliation. The reservation at request time
// and its resolution at callback time are the only two mutations of
// the locked tier for a given withdrawal.
type WithdrawalService struct {
	repo           repo.RepositoryInterface
	engine         *LedgerEngine
	gateway        Gateway
	b2cSuccessCode int
	log            *zap.SugaredLogger
}

func NewWithdrawalService(r repo.RepositoryInterface, engine *LedgerEngine, gw Gateway, b2cSuccessCode int, log *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{repo: r, engine: engine, gateway: gw, b2cSuccessCode: b2cSuccessCode, log: log}
}

// Create reserves the amount from available into locked, records the
// withdrawal and dispatches the payout. The reservation commits before
// the dispatch so concurrent requests cannot double-spend; the
// external call itself runs outside the lock.
func (s *WithdrawalService) Create(ctx context.Context, userID uint64, amount decimal.Decimal, phone string) (*model.Withdrawal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	var wd *model.Withdrawal
	err := s.engine.WithRetry(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWalletForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w.AvailableBalance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		wd = &model.Withdrawal{
			UserID: userID,
			Amount: amount,
			Phone:  phone,
			Status: model.WithdrawalRequested,
		}
		if err := s.repo.CreateWithdrawal(ctx, tx, wd); err != nil {
			return err
		}
		_, err = s.engine.PostTx(ctx, tx, Posting{
			UserID:    userID,
			Type:      model.EntryWithdrawalRequest,
			Direction: model.DirectionDebit,
			Gross:     amount,
			Net:       amount,
			Reference: wd.Reference(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.B2CPayment(ctx, phone, amount, wd.Reference())
	if err != nil {
		s.log.Errorf("payout dispatch for %s failed: %v", wd.Reference(), err)
		if rerr := s.reverse(ctx, wd.ID, nil); rerr != nil {
			s.log.Errorf("reverse reservation for %s: %v", wd.Reference(), rerr)
		}
		metrics.Withdrawals.WithLabelValues("dispatch_failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.repo.UpdateWithdrawal(ctx, s.repo.DB(ctx), wd.ID, map[string]interface{}{
		"status":                     model.WithdrawalProcessing,
		"conversation_id":            resp.ConversationID,
		"originator_conversation_id": resp.OriginatorConversationID,
	}); err != nil {
		return nil, err
	}
	wd.Status = model.WithdrawalProcessing
	wd.ConversationID = &resp.ConversationID
	wd.OriginatorConversationID = &resp.OriginatorConversationID
	metrics.Withdrawals.WithLabelValues("dispatched").Inc()
	return wd, nil
}

// HandlePayoutResult reconciles a payout result callback. Unknown and
// replayed results are discarded.
func (s *WithdrawalService) HandlePayoutResult(ctx context.Context, res *mpesa.B2CResult) error {
	wd, err := s.repo.GetWithdrawalByOriginatorID(ctx, res.OriginatorConversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnf("payout result for unknown conversation %s, discarding", res.OriginatorConversationID)
		metrics.GatewayCallbacks.WithLabelValues("payout", "unknown").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if wd.Status.Terminal() {
		metrics.GatewayCallbacks.WithLabelValues("payout", "duplicate").Inc()
		return nil
	}

	if int(res.ResultCode) == s.b2cSuccessCode {
		return s.complete(ctx, wd.ID, res)
	}
	s.log.Infow("payout failed",
		"withdrawal", wd.Reference(), "code", int(res.ResultCode), "desc", res.ResultDesc)
	gatewayRef := res.TransactionID
	if gatewayRef == "" {
		gatewayRef = res.ResultDesc
	}
	return s.reverse(ctx, wd.ID, &gatewayRef)
}

// HandlePayoutTimeout resolves a payout whose request sat in the
// gateway queue past its deadline; the reservation is returned.
func (s *WithdrawalService) HandlePayoutTimeout(ctx context.Context, originatorID string) error {
	wd, err := s.repo.GetWithdrawalByOriginatorID(ctx, originatorID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.GatewayCallbacks.WithLabelValues("payout", "unknown").Inc()
		return nil
	}
	if err != nil {
		return err
	}
	if wd.Status.Terminal() {
		metrics.GatewayCallbacks.WithLabelValues("payout", "duplicate").Inc()
		return nil
	}
	ref := "timeout"
	return s.reverse(ctx, wd.ID, &ref)
}

// complete releases the reservation out of the system and decrements
// the profile's goal_raised by the paid amount, floored at zero.
func (s *WithdrawalService) complete(ctx context.Context, withdrawalID uint64, res *mpesa.B2CResult) error {
	err := s.engine.WithRetry(ctx, func(tx *gorm.DB) error {
		wd, err := s.repo.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if wd.Status.Terminal() {
			return nil
		}
		receipt := res.Receipt()
		if receipt == "" {
			receipt = wd.Reference()
		}
		if _, err := s.engine.PostTx(ctx, tx, Posting{
			UserID:    wd.UserID,
			Type:      model.EntryWithdrawalCompleted,
			Direction: model.DirectionDebit,
			Gross:     wd.Amount,
			Net:       wd.Amount,
			Reference: receipt,
			GoalDelta: wd.Amount.Neg(),
		}); err != nil {
			return err
		}
		return s.repo.UpdateWithdrawal(ctx, tx, wd.ID, map[string]interface{}{
			"status":      model.WithdrawalCompleted,
			"gateway_ref": receipt,
		})
	})
	if err != nil {
		return err
	}
	metrics.Withdrawals.WithLabelValues("completed").Inc()
	metrics.GatewayCallbacks.WithLabelValues("payout", "completed").Inc()
	return nil
}

// reverse returns the reservation to the available tier and records
// the zero-net-effect audit entry, marking the withdrawal FAILED.
func (s *WithdrawalService) reverse(ctx context.Context, withdrawalID uint64, gatewayRef *string) error {
	err := s.engine.WithRetry(ctx, func(tx *gorm.DB) error {
		wd, err := s.repo.GetWithdrawalForUpdate(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if wd.Status.Terminal() {
			return nil
		}
		if _, err := s.engine.PostTx(ctx, tx, Posting{
			UserID:    wd.UserID,
			Type:      model.EntryWithdrawalFailed,
			Direction: model.DirectionCredit,
			Gross:     wd.Amount,
			Net:       wd.Amount,
			Reference: wd.Reference(),
		}); err != nil {
			return err
		}
		fields := map[string]interface{}{"status": model.WithdrawalFailed}
		if gatewayRef != nil {
			fields["gateway_ref"] = *gatewayRef
		}
		return s.repo.UpdateWithdrawal(ctx, tx, wd.ID, fields)
	})
	if err != nil {
		return err
	}
	metrics.Withdrawals.WithLabelValues("failed").Inc()
	metrics.GatewayCallbacks.WithLabelValues("payout", "failed").Inc()
	return nil
}
