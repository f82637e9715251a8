// Package transfer implements atomic point movement between accounts.
//
// Every balance mutation flows through here:
//  1. Validate the accounts and amount (pre-checks for clean error messages)
//  2. Compute commission with half-up rounding
//  3. Execute the debit, credit, log append, and sync enqueue as ONE
//     store-level transaction — no partially applied transfer can exist
//  4. Retry bounded times on store contention, then fail whole
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
)

// Store is what the engine needs from the ledger store. It is satisfied by
// *sqlite.DB; tests substitute fakes to exercise contention paths.
type Store interface {
	domain.LedgerStore
	CommissionRate(ctx context.Context, fallback float64) (float64, error)
}

// Config controls transfer behavior.
type Config struct {
	DefaultRate float64       // Commission rate when none is persisted (default: 0.10)
	MaxRetries  int           // Attempts per operation under store contention (default: 3)
	RetryDelay  time.Duration // Pause between contention retries (default: 50ms)
}

// DefaultConfig returns safe transfer defaults.
func DefaultConfig() Config {
	return Config{
		DefaultRate: 0.10,
		MaxRetries:  3,
		RetryDelay:  50 * time.Millisecond,
	}
}

// Engine executes transfers, grants, and deductions against the ledger.
type Engine struct {
	config Config
	store  Store
}

// New creates a transfer engine.
func New(cfg Config, store Store) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Engine{config: cfg, store: store}
}

// ─── Transfer ───────────────────────────────────────────────────────────────

// Transfer moves amount points from sender to recipient, charging the sender
// commission on top. The sender pays amount+commission; the recipient gains
// exactly amount; the commission leaves circulation.
func (e *Engine) Transfer(ctx context.Context, senderID, recipientID string, amount int64) (rec domain.TransactionRecord, err error) {
	tracer := observability.Default()
	span := tracer.StartSpan(ctx, "transfer.execute", map[string]string{
		"sender": senderID, "recipient": recipientID,
	})
	defer func() { tracer.EndSpan(span, err) }()
	return e.transfer(ctx, senderID, recipientID, amount)
}

func (e *Engine) transfer(ctx context.Context, senderID, recipientID string, amount int64) (domain.TransactionRecord, error) {
	if amount <= 0 {
		return domain.TransactionRecord{}, domain.ErrInvalidAmount
	}
	if senderID == recipientID {
		return domain.TransactionRecord{}, domain.ErrSameAccount
	}

	sender, err := e.activeAccount(ctx, senderID)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	_, err = e.activeAccount(ctx, recipientID)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	rate, err := e.store.CommissionRate(ctx, e.config.DefaultRate)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("load commission rate: %w", err)
	}
	commission := domain.Commission(amount, rate)

	// Pre-check for a friendly error. The store re-checks inside the
	// transaction, so a concurrent spend still cannot overdraw.
	if sender.Points < amount+commission {
		return domain.TransactionRecord{}, domain.ErrInsufficientBalance
	}

	var rec domain.TransactionRecord
	err = e.withRetry(ctx, func() error {
		var txErr error
		rec, txErr = e.store.TransferTx(ctx, senderID, recipientID, amount, commission)
		return txErr
	})
	if err != nil {
		observability.TransfersTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.TransactionRecord{}, fmt.Errorf("%w: store busy after %d attempts", domain.ErrTransferFailed, e.config.MaxRetries)
		}
		return domain.TransactionRecord{}, err
	}

	observability.TransfersTotal.WithLabelValues("ok").Inc()
	observability.CommissionCollected.Add(float64(commission))
	log.Printf("[transfer] %s -> %s: %d points (+%d commission)", senderID, recipientID, amount, commission)
	return rec, nil
}

// ─── Grant / Deduct ─────────────────────────────────────────────────────────

// Grant credits an account by amount on a teacher's authority. No commission.
func (e *Engine) Grant(ctx context.Context, actorID, accountID string, amount int64, note string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if _, err := e.activeAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return e.adjust(ctx, actorID, accountID, amount, domain.TxCredit, note)
}

// Deduct debits an account by amount on a teacher's authority. Fails with
// ErrInsufficientBalance rather than taking the balance below zero.
func (e *Engine) Deduct(ctx context.Context, actorID, accountID string, amount int64, note string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if _, err := e.activeAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return e.adjust(ctx, actorID, accountID, -amount, domain.TxDebit, note)
}

// adjust applies a signed delta through the store's single-transaction path:
// the balance update, the log record, and the mirror push commit together, so
// a crash mid-adjustment never leaves a mutated balance without its record.
func (e *Engine) adjust(ctx context.Context, actorID, accountID string, delta int64, kind domain.TransactionKind, note string) (int64, error) {
	var balance int64
	err := e.withRetry(ctx, func() error {
		var opErr error
		balance, opErr = e.store.AdjustTx(ctx, actorID, accountID, delta, kind, note)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (e *Engine) activeAccount(ctx context.Context, id string) (domain.Account, error) {
	acc, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if !acc.Active() {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountInactive, id)
	}
	return acc, nil
}

// withRetry runs op, retrying on ErrStoreUnavailable up to MaxRetries total
// attempts. Any other error aborts immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.TransferRetries.Inc()
			select {
			case <-time.After(e.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = op()
		if err == nil || !errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
	}
	return err
}
