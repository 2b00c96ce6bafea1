package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/tipme/tipme-server/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionConflict is returned when a wallet update loses the
// version check; callers retry the whole posting.
var ErrVersionConflict = errors.New("wallet version conflict")

// ErrDuplicateEntry is returned when a ledger insert hits the
// (reference, entry_type) uniqueness constraint.
var ErrDuplicateEntry = errors.New("ledger entry already posted")

// RepositoryInterface restricts Repo methods (unit test mocks).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error)
	UpdateWalletTiers(ctx context.Context, tx *gorm.DB, walletID uint64, available, pending, locked decimal.Decimal, oldVersion uint64) error

	CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	FindLedgerEntry(ctx context.Context, tx *gorm.DB, reference string, entryType model.EntryType) (*model.LedgerEntry, error)
	ListLedger(ctx context.Context, userID uint64, limit int) ([]model.LedgerEntry, error)

	CreatePaymentIntent(ctx context.Context, intent *model.PaymentIntent) error
	SetIntentCheckoutID(ctx context.Context, intentID uint64, checkoutID string) error
	GetIntentByCheckoutID(ctx context.Context, checkoutID string) (*model.PaymentIntent, error)
	GetIntentForUpdate(ctx context.Context, tx *gorm.DB, intentID uint64) (*model.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, tx *gorm.DB, intentID uint64, status model.IntentStatus) error

	CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error
	GetWithdrawalByOriginatorID(ctx context.Context, originatorID string) (*model.Withdrawal, error)
	GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error
	ListWithdrawals(ctx context.Context, limit int) ([]model.Withdrawal, error)

	GetPlatformWalletForUpdate(ctx context.Context, tx *gorm.DB) (*model.PlatformWallet, error)
	UpdatePlatformBalance(ctx context.Context, tx *gorm.DB, newBalance decimal.Decimal) error
	CreatePlatformEntry(ctx context.Context, tx *gorm.DB, e *model.PlatformLedgerEntry) error
	GetPlatformWallet(ctx context.Context) (*model.PlatformWallet, error)
	ListPlatformLedger(ctx context.Context, limit int) ([]model.PlatformLedgerEntry, error)

	GetProfileForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Profile, error)
	SetGoalRaised(ctx context.Context, tx *gorm.DB, profileID uint64, raised decimal.Decimal) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheWallet(ctx context.Context, w *model.Wallet) error
	GetCachedWallet(ctx context.Context, userID uint64) (*model.Wallet, error)
}

// Repository implements RepositoryInterface on gorm + redis + kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWalletForUpdate locks the wallet row, creating it zero-valued on
// first reference.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = model.Wallet{
			UserID:           userID,
			AvailableBalance: decimal.Zero,
			PendingBalance:   decimal.Zero,
			LockedBalance:    decimal.Zero,
		}
		if err := tx.WithContext(ctx).Create(&w).Error; err != nil {
			return nil, err
		}
		return &w, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWallet reads a wallet outside any lock. The snapshot may be stale
// and serves display endpoints only.
func (r *Repository) GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWalletTiers writes all three tiers together under the row lock
// held by tx. The version check guards against interleaving.
func (r *Repository) UpdateWalletTiers(ctx context.Context, tx *gorm.DB, walletID uint64, available, pending, locked decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"available_balance": available,
			"pending_balance":   pending,
			"locked_balance":    locked,
			"version":           oldVersion + 1,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CreateLedgerEntry inserts an immutable entry. A uniqueness violation
// on (reference, entry_type) surfaces as ErrDuplicateEntry.
func (r *Repository) CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// FindLedgerEntry looks up an entry by its idempotency pair.
func (r *Repository) FindLedgerEntry(ctx context.Context, tx *gorm.DB, reference string, entryType model.EntryType) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("reference = ? AND entry_type = ?", reference, entryType).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLedger fetches recent entries for one user, newest first.
func (r *Repository) ListLedger(ctx context.Context, userID uint64, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *Repository) CreatePaymentIntent(ctx context.Context, intent *model.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *Repository) SetIntentCheckoutID(ctx context.Context, intentID uint64, checkoutID string) error {
	return r.db.WithContext(ctx).Model(&model.PaymentIntent{}).
		Where("id = ?", intentID).
		Update("checkout_request_id", checkoutID).Error
}

func (r *Repository) GetIntentByCheckoutID(ctx context.Context, checkoutID string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutID).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetIntentForUpdate locks the intent row so that replayed callbacks
// for the same intent serialize.
func (r *Repository) GetIntentForUpdate(ctx context.Context, tx *gorm.DB, intentID uint64) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", intentID).
		First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *Repository) UpdateIntentStatus(ctx context.Context, tx *gorm.DB, intentID uint64, status model.IntentStatus) error {
	return tx.WithContext(ctx).Model(&model.PaymentIntent{}).
		Where("id = ?", intentID).
		Update("status", status).Error
}

func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return tx.WithContext(ctx).Create(w).Error
}

func (r *Repository) GetWithdrawalByOriginatorID(ctx context.Context, originatorID string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("originator_conversation_id = ?", originatorID).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) UpdateWithdrawal(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error {
	return tx.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *Repository) ListWithdrawals(ctx context.Context, limit int) ([]model.Withdrawal, error) {
	var ws []model.Withdrawal
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&ws).Error
	return ws, err
}

// GetPlatformWalletForUpdate locks the singleton platform row,
// creating it on first use.
func (r *Repository) GetPlatformWalletForUpdate(ctx context.Context, tx *gorm.DB) (*model.PlatformWallet, error) {
	var p model.PlatformWallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", model.PlatformWalletID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = model.PlatformWallet{ID: model.PlatformWalletID, Balance: decimal.Zero}
		if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) UpdatePlatformBalance(ctx context.Context, tx *gorm.DB, newBalance decimal.Decimal) error {
	return tx.WithContext(ctx).Model(&model.PlatformWallet{}).
		Where("id = ?", model.PlatformWalletID).
		Updates(map[string]interface{}{"balance": newBalance, "updated_at": time.Now()}).Error
}

func (r *Repository) CreatePlatformEntry(ctx context.Context, tx *gorm.DB, e *model.PlatformLedgerEntry) error {
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (r *Repository) GetPlatformWallet(ctx context.Context) (*model.PlatformWallet, error) {
	var p model.PlatformWallet
	if err := r.db.WithContext(ctx).Where("id = ?", model.PlatformWalletID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) ListPlatformLedger(ctx context.Context, limit int) ([]model.PlatformLedgerEntry, error) {
	var entries []model.PlatformLedgerEntry
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// GetProfileForUpdate locks the profile row for a goal read/adjust.
func (r *Repository) GetProfileForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Profile, error) {
	var p model.Profile
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) SetGoalRaised(ctx context.Context, tx *gorm.DB, profileID uint64, raised decimal.Decimal) error {
	return tx.WithContext(ctx).Model(&model.Profile{}).
		Where("id = ?", profileID).
		Update("goal_raised", raised).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.AggregateID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheWallet writes the display snapshot to Redis.
func (r *Repository) CacheWallet(ctx context.Context, w *model.Wallet) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, walletCacheKey(w.UserID), payload, 5*time.Minute).Err()
}

// GetCachedWallet reads the display snapshot from Redis.
func (r *Repository) GetCachedWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	str, err := r.rdb.Get(ctx, walletCacheKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var w model.Wallet
	if err := json.Unmarshal([]byte(str), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func walletCacheKey(userID uint64) string {
	return fmt.Sprintf("wallet:balance:%d", userID)
}

// isUniqueViolation matches the unique-constraint errors of both the
// postgres driver and the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
