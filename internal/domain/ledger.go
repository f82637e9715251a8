package domain

import "time"

// ─── Transaction Log Types ──────────────────────────────────────────────────
// The transaction log is append-only: entries are never mutated or deleted.
// Besides audit, it is how the engine detects double-application of the same
// mirror edit (sync-adjustment entries carry the origin that produced them).

// TransactionKind is the business reason for a ledger mutation.
type TransactionKind string

const (
	TxCredit         TransactionKind = "credit"          // teacher grants points
	TxDebit          TransactionKind = "debit"           // teacher deducts points
	TxTransfer       TransactionKind = "transfer"        // student-to-student transfer
	TxSyncAdjustment TransactionKind = "sync-adjustment" // external mirror edit folded in
)

// TransactionRecord is a single immutable log entry. Every committed transfer
// has exactly one record; every folded mirror edit has exactly one
// sync-adjustment record.
type TransactionRecord struct {
	ID          string          `json:"id"`
	Kind        TransactionKind `json:"kind"`
	SenderID    string          `json:"sender_id,omitempty"`
	RecipientID string          `json:"recipient_id"`
	Amount      int64           `json:"amount"`
	Commission  int64           `json:"commission,omitempty"`
	// Resulting balances after the mutation committed.
	SenderBalance    int64     `json:"sender_balance,omitempty"`
	RecipientBalance int64     `json:"recipient_balance"`
	Actor            string    `json:"actor"`            // user id, or "sync" for mirror folds
	Origin           string    `json:"origin,omitempty"` // dedup key for sync-adjustments
	Note             string    `json:"note,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// TotalDebit is what the sender pays for a transfer: amount plus commission.
func (r TransactionRecord) TotalDebit() int64 { return r.Amount + r.Commission }

// ─── Pending Sync Tasks ─────────────────────────────────────────────────────

// SyncDirection says which store a pending task pushes toward.
type SyncDirection string

const (
	LedgerToMirror SyncDirection = "ledger_to_mirror"
	MirrorToLedger SyncDirection = "mirror_to_ledger"
)

// TaskStatus is the lifecycle state of a pending sync task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskFailed  TaskStatus = "failed" // hit the attempt ceiling; needs an operator
)

// PendingSyncTask is a durable unit of reconciliation work. It survives
// process restarts and is deleted only after confirmed application. A task
// that exhausts its attempts transitions to failed and stays queryable — it
// is never dropped silently.
type PendingSyncTask struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	Direction SyncDirection `json:"direction"`
	// Value is the full target balance for ledger→mirror tasks, and the
	// signed delta to fold for mirror→ledger tasks.
	Value     int64      `json:"value"`
	Attempts  int        `json:"attempts"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	NotBefore time.Time  `json:"not_before"` // backoff gate
	LastError string     `json:"last_error,omitempty"`
}

// ─── Reconciliation Report ──────────────────────────────────────────────────

// AccountError records one account whose reconciliation failed this pass.
// Failures are isolated: the rest of the pass continues.
type AccountError struct {
	AccountID string `json:"account_id"`
	Err       string `json:"error"`
}

// ReconciliationReport summarizes one reconciliation pass over one group.
type ReconciliationReport struct {
	GroupID   string         `json:"group_id"`
	Applied   int            `json:"applied"`   // ledger→mirror pushes enqueued
	Conflicts int            `json:"conflicts"` // mirror-wins folds applied
	Added     int            `json:"added"`     // missing mirror rows appended
	Removed   int            `json:"removed"`   // stale mirror rows deleted
	Skipped   int            `json:"skipped"`   // accounts already in agreement
	Errors    []AccountError `json:"errors,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Merge folds another group's report into an aggregate (used by sync-all).
func (r *ReconciliationReport) Merge(other ReconciliationReport) {
	r.Applied += other.Applied
	r.Conflicts += other.Conflicts
	r.Added += other.Added
	r.Removed += other.Removed
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
	r.Duration += other.Duration
}
