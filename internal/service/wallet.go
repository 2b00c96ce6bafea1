package service

import (
	"context"
	"errors"

	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletService serves non-authoritative display reads. Authoritative
// state only ever changes through the ledger engine.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewWalletService(r repo.RepositoryInterface, log *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: log}
}

// GetWallet returns a possibly-stale snapshot, served from cache when
// warm.
func (s *WalletService) GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	if w, err := s.repo.GetCachedWallet(ctx, userID); err == nil {
		return w, nil
	}
	w, err := s.repo.GetWallet(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.repo.CacheWallet(ctx, w); err != nil {
		s.log.Warnf("cache wallet %d: %v", userID, err)
	}
	return w, nil
}

// GetLedger returns recent ledger entries for one user.
func (s *WalletService) GetLedger(ctx context.Context, userID uint64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListLedger(ctx, userID, limit)
}

// ListWithdrawals returns recent withdrawals across all users (admin).
func (s *WalletService) ListWithdrawals(ctx context.Context, limit int) ([]model.Withdrawal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListWithdrawals(ctx, limit)
}

// PlatformSummary returns the platform fee balance and its recent
// entries (admin).
func (s *WalletService) PlatformSummary(ctx context.Context, limit int) (*model.PlatformWallet, []model.PlatformLedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	pw, err := s.repo.GetPlatformWallet(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.PlatformWallet{ID: model.PlatformWalletID}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.repo.ListPlatformLedger(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	return pw, entries, nil
}
