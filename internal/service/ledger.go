package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tipme/tipme-server/internal/metrics"
	"github.com/tipme/tipme-server/internal/model"
	"github.com/tipme/tipme-server/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxPostRetries bounds retries on wallet version conflicts before the
// operation fails with ErrLockConflict.
const maxPostRetries = 3

// Posting describes one balance-affecting event to be recorded. The
// tier deltas are derived from the entry type; callers never touch
// balances directly.
type Posting struct {
	UserID    uint64
	Type      model.EntryType
	Direction model.Direction
	Gross     decimal.Decimal
	Fee       decimal.Decimal
	Net       decimal.Decimal
	Reference string

	// CreditPlatformFee mirrors Fee into the platform wallet and
	// platform ledger under the same reference.
	CreditPlatformFee bool

	// GoalDelta adjusts the profile's goal_raised accumulator,
	// floored at zero. Zero means no adjustment.
	GoalDelta decimal.Decimal

	// CheckGoalRelease runs the goal release monitor after the entry
	// is applied, inside the same transaction and wallet lock.
	CheckGoalRelease bool
}

// LedgerEngine is the sole writer of ledger entries and the sole
// mutator of wallet and platform balances. Every posting is one atomic
// transaction: wallet row lock, tier deltas, balance snapshot, entry
// insert, optional platform fee credit and goal release, outbox event.
type LedgerEngine struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewLedgerEngine(r repo.RepositoryInterface, log *zap.SugaredLogger) *LedgerEngine {
	return &LedgerEngine{repo: r, log: log}
}

// tierDeltas maps an entry type to the per-tier balance changes it
// implies, all expressed over the posting's net amount.
func tierDeltas(p Posting) (available, pending, locked decimal.Decimal, err error) {
	zero := decimal.Zero
	switch p.Type {
	case model.EntryTipReceived:
		// net collects in pending until the goal releases it
		return zero, p.Net, zero, nil
	case model.EntryWithdrawalRequest:
		// reservation: available -> locked
		return p.Net.Neg(), zero, p.Net, nil
	case model.EntryWithdrawalCompleted:
		// reservation leaves the system
		return zero, zero, p.Net.Neg(), nil
	case model.EntryWithdrawalFailed:
		// reservation returns: locked -> available
		return p.Net, zero, p.Net.Neg(), nil
	case model.EntryGoalRelease:
		// pending -> available
		return p.Net, p.Net.Neg(), zero, nil
	default:
		return zero, zero, zero, errors.New("entry type not postable to a user wallet: " + string(p.Type))
	}
}

// Post records the posting in its own transaction, retrying bounded
// times on wallet contention. A replay of an already-posted reference
// returns the original entry and changes nothing.
func (e *LedgerEngine) Post(ctx context.Context, p Posting) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := e.WithRetry(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = e.PostTx(ctx, tx, p)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEntry) {
			// lost an insert race to a concurrent replay; the event is
			// posted, fetch the winner's entry
			if existing, ferr := e.repo.FindLedgerEntry(ctx, e.repo.DB(ctx), p.Reference, p.Type); ferr == nil {
				metrics.DuplicateEvents.Inc()
				return existing, nil
			}
		}
		return nil, err
	}
	return entry, nil
}

// WithRetry runs fn in a transaction, retrying on wallet version
// conflicts with backoff. Used by reconcilers that need extra rows in
// the same atomic unit as a posting.
func (e *LedgerEngine) WithRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	for attempt := 0; attempt < maxPostRetries; attempt++ {
		err := e.repo.DB(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, repo.ErrVersionConflict) {
			select {
			case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return err
	}
	return ErrLockConflict
}

// PostTx records the posting inside the caller's transaction. If the
// (reference, entry_type) pair is already posted the existing entry is
// returned and nothing is written.
func (e *LedgerEngine) PostTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error) {
	existing, err := e.repo.FindLedgerEntry(ctx, tx, p.Reference, p.Type)
	if err == nil {
		metrics.DuplicateEvents.Inc()
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	dAvail, dPending, dLocked, err := tierDeltas(p)
	if err != nil {
		return nil, err
	}

	w, err := e.repo.GetWalletForUpdate(ctx, tx, p.UserID)
	if err != nil {
		return nil, err
	}

	newAvail := w.AvailableBalance.Add(dAvail)
	newPending := w.PendingBalance.Add(dPending)
	newLocked := w.LockedBalance.Add(dLocked)
	if newAvail.IsNegative() || newPending.IsNegative() || newLocked.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	if err := e.repo.UpdateWalletTiers(ctx, tx, w.ID, newAvail, newPending, newLocked, w.Version); err != nil {
		return nil, err
	}
	version := w.Version + 1
	balanceAfter := newAvail.Add(newPending).Add(newLocked)

	entry := &model.LedgerEntry{
		UserID:       p.UserID,
		EntryType:    p.Type,
		Direction:    p.Direction,
		GrossAmount:  p.Gross,
		FeeAmount:    p.Fee,
		NetAmount:    p.Net,
		BalanceAfter: balanceAfter,
		Reference:    p.Reference,
		Status:       "POSTED",
	}
	if err := e.repo.CreateLedgerEntry(ctx, tx, entry); err != nil {
		// duplicate here aborts the transaction so the tier update
		// rolls back with it; Post resolves it to a no-op
		return nil, err
	}

	if p.CreditPlatformFee && p.Fee.IsPositive() {
		if err := e.creditPlatformFee(ctx, tx, p.Fee, p.Reference); err != nil {
			return nil, err
		}
	}

	if !p.GoalDelta.IsZero() || p.CheckGoalRelease {
		if err := e.applyGoal(ctx, tx, p, w.ID, version, newAvail, newPending, newLocked); err != nil {
			return nil, err
		}
	}

	if err := e.writeOutbox(ctx, tx, entry); err != nil {
		return nil, err
	}

	metrics.LedgerPostings.WithLabelValues(string(p.Type)).Inc()
	return entry, nil
}

// creditPlatformFee upserts the singleton platform balance and appends
// the FEE CREDIT mirror entry, keyed by the same external receipt.
func (e *LedgerEngine) creditPlatformFee(ctx context.Context, tx *gorm.DB, fee decimal.Decimal, reference string) error {
	pw, err := e.repo.GetPlatformWalletForUpdate(ctx, tx)
	if err != nil {
		return err
	}
	if err := e.repo.UpdatePlatformBalance(ctx, tx, pw.Balance.Add(fee)); err != nil {
		return err
	}
	return e.repo.CreatePlatformEntry(ctx, tx, &model.PlatformLedgerEntry{
		EntryType: model.EntryFee,
		Direction: model.DirectionCredit,
		Amount:    fee,
		Reference: reference,
	})
}

// applyGoal adjusts goal_raised under the profile lock and, when
// requested, releases pending funds if the goal is met. The release
// extends the posting's transaction and wallet lock; it never
// re-acquires.
func (e *LedgerEngine) applyGoal(ctx context.Context, tx *gorm.DB, p Posting, walletID, version uint64, avail, pending, locked decimal.Decimal) error {
	profile, err := e.repo.GetProfileForUpdate(ctx, tx, p.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// wallet owners without a goal-bearing profile are fine
		return nil
	}
	if err != nil {
		return err
	}

	raised := profile.GoalRaised
	if !p.GoalDelta.IsZero() {
		raised = raised.Add(p.GoalDelta)
		if raised.IsNegative() {
			raised = decimal.Zero
		}
		if err := e.repo.SetGoalRaised(ctx, tx, profile.ID, raised); err != nil {
			return err
		}
	}

	if !p.CheckGoalRelease || profile.GoalAmount == nil {
		return nil
	}
	if raised.LessThan(*profile.GoalAmount) || !pending.IsPositive() {
		return nil
	}

	// goal met: promote the entire pending tier
	released := pending
	newAvail := avail.Add(released)
	if err := e.repo.UpdateWalletTiers(ctx, tx, walletID, newAvail, decimal.Zero, locked, version); err != nil {
		return err
	}

	release := &model.LedgerEntry{
		UserID:       p.UserID,
		EntryType:    model.EntryGoalRelease,
		Direction:    model.DirectionCredit,
		GrossAmount:  released,
		FeeAmount:    decimal.Zero,
		NetAmount:    released,
		BalanceAfter: newAvail.Add(locked),
		Reference:    "GOAL-" + p.Reference,
		Status:       "POSTED",
	}
	if err := e.repo.CreateLedgerEntry(ctx, tx, release); err != nil {
		return err
	}
	if err := e.writeOutbox(ctx, tx, release); err != nil {
		return err
	}
	metrics.LedgerPostings.WithLabelValues(string(model.EntryGoalRelease)).Inc()
	e.log.Infow("goal reached, pending funds released",
		"user_id", p.UserID, "amount", released.String())
	return nil
}

func (e *LedgerEngine) writeOutbox(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	payload, err := json.Marshal(map[string]interface{}{
		"user_id":       entry.UserID,
		"entry_type":    entry.EntryType,
		"direction":     entry.Direction,
		"gross_amount":  entry.GrossAmount,
		"fee_amount":    entry.FeeAmount,
		"net_amount":    entry.NetAmount,
		"balance_after": entry.BalanceAfter,
		"reference":     entry.Reference,
	})
	if err != nil {
		return err
	}
	return e.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
		Aggregate:   "WalletLedger",
		AggregateID: entry.UserID,
		EventType:   string(entry.EntryType),
		Payload:     string(payload),
	})
}
