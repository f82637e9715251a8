package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore abstracts the primary transactional store. It must provide a
// native multi-field transactional update — callers never emulate atomicity
// with separate reads and writes.
type LedgerStore interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountsByGroup(ctx context.Context, groupID string) ([]Account, error)

	// AtomicUpdateBalance applies delta to the account's balance in one
	// store-level operation, failing without mutation when the resulting
	// balance would drop below expectMin. Returns the new balance.
	AtomicUpdateBalance(ctx context.Context, id string, delta, expectMin int64) (int64, error)

	// TransferTx atomically debits the sender by amount+commission, credits
	// the recipient by amount, appends the transfer record, and enqueues one
	// ledger→mirror task per affected account. All or nothing.
	TransferTx(ctx context.Context, senderID, recipientID string, amount, commission int64) (TransactionRecord, error)

	// AdjustTx atomically applies a signed delta to one active account,
	// appends a log record of the given kind, and enqueues the ledger→mirror
	// push carrying the new balance. All or nothing; a delta that would take
	// the balance below zero fails without mutation. Returns the new balance.
	AdjustTx(ctx context.Context, actorID, accountID string, delta int64, kind TransactionKind, note string) (int64, error)

	// ApplyMirrorDelta folds an external mirror edit into the ledger:
	// balance += delta, baseline = new balance, one sync-adjustment record
	// with the given origin. A repeated origin is a no-op (dedup), reported
	// via the bool result.
	ApplyMirrorDelta(ctx context.Context, id string, delta int64, origin string) (applied bool, newBalance int64, err error)

	// MarkSynced advances the account's private baseline after a confirmed
	// mirror write.
	MarkSynced(ctx context.Context, id string, value int64, at time.Time) error

	AppendTransaction(ctx context.Context, rec TransactionRecord) error
}

// MirrorStore abstracts the secondary tabular store. No transactional
// guarantee is required or assumed; all conflict resolution happens in the
// reconciler.
type MirrorStore interface {
	// ReadRows returns every parseable row of the sheet, in sheet order.
	ReadRows(ctx context.Context, sheetName string) ([]MirrorRow, error)

	// WriteRow updates the points and timestamp cells of one row.
	WriteRow(ctx context.Context, sheetName string, rowIndex int, points int64, stamp string) error

	AppendRow(ctx context.Context, sheetName string, row MirrorRow) error
	DeleteRow(ctx context.Context, sheetName string, rowIndex int) error

	// ListSheets returns the sheet tab names; each tab is one group.
	ListSheets(ctx context.Context) ([]string, error)
}

// NotificationSink receives operator-facing events: pass summaries and tasks
// that hit the retry ceiling. Implementations must not block reconciliation.
type NotificationSink interface {
	ReportSync(ctx context.Context, report ReconciliationReport)
	TaskFailed(ctx context.Context, task PendingSyncTask)
}
