package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Account Operations ─────────────────────────────────────────────────────

const accountCols = `user_id, full_name, phone, username, role, group_id,
	points, status, last_synced_points, COALESCE(last_synced_at, ''), created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var a domain.Account
	var syncedAt, createdAt, updatedAt string
	err := row.Scan(&a.UserID, &a.FullName, &a.Phone, &a.Username, &a.Role,
		&a.GroupID, &a.Points, &a.Status, &a.LastSyncedPoints, &syncedAt,
		&createdAt, &updatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	a.LastSyncedAt = parseStamp(syncedAt)
	a.CreatedAt = parseStamp(createdAt)
	a.UpdatedAt = parseStamp(updatedAt)
	return a, nil
}

// CreateAccount inserts a new account. The baseline starts at the opening
// balance so the first reconciliation pass sees no phantom mirror delta.
func (db *DB) CreateAccount(ctx context.Context, a domain.Account) error {
	if a.Role == "" {
		a.Role = domain.RoleStudent
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}
	now := db.stamp()
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, full_name, phone, username, role, group_id,
			points, status, last_synced_points, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.FullName, a.Phone, a.Username, a.Role, a.GroupID,
		a.Points, a.Status, a.Points, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (db *DB) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountsByGroup returns the active student accounts of a group, the set
// the reconciler operates on.
func (db *DB) GetAccountsByGroup(ctx context.Context, groupID string) ([]domain.Account, error) {
	return db.queryAccounts(ctx, `
		SELECT `+accountCols+` FROM accounts
		WHERE group_id = ? AND role = 'student' AND status = 'active'
		ORDER BY user_id
	`, groupID)
}

// ListAccounts returns accounts matching the optional role and status
// filters (empty string = no filter).
func (db *DB) ListAccounts(ctx context.Context, role domain.Role, status domain.AccountStatus) ([]domain.Account, error) {
	return db.queryAccounts(ctx, `
		SELECT `+accountCols+` FROM accounts
		WHERE (? = '' OR role = ?) AND (? = '' OR status = ?)
		ORDER BY user_id
	`, role, role, status, status)
}

// Ranking returns active students ordered by points, highest first.
// An empty groupID ranks across all groups.
func (db *DB) Ranking(ctx context.Context, groupID string) ([]domain.Account, error) {
	return db.queryAccounts(ctx, `
		SELECT `+accountCols+` FROM accounts
		WHERE role = 'student' AND status = 'active' AND (? = '' OR group_id = ?)
		ORDER BY points DESC, user_id
	`, groupID, groupID)
}

func (db *DB) queryAccounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountStatus moves an account through its lifecycle
// (approve, reject, soft-delete, restore).
func (db *DB) UpdateAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, updated_at = ? WHERE user_id = ?
	`, status, db.stamp(), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ─── Atomic Balance Updates ─────────────────────────────────────────────────

// AtomicUpdateBalance applies delta to an account's balance in a single
// statement. The precondition (resulting balance >= expectMin) is checked
// inside the UPDATE itself, so a concurrent writer can never slip between
// check and mutation. Returns the new balance.
func (db *DB) AtomicUpdateBalance(ctx context.Context, id string, delta, expectMin int64) (int64, error) {
	var balance int64
	err := db.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET points = points + ?, updated_at = ?
		WHERE user_id = ? AND status = 'active' AND points + ? >= ?
		RETURNING points
	`, delta, db.stamp(), id, delta, expectMin).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish "no such active account" from "guard rejected".
		if _, getErr := db.GetAccount(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrInsufficientBalance
	}
	if err != nil {
		if IsBusy(err) {
			return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return 0, fmt.Errorf("atomic update: %w", err)
	}
	return balance, nil
}

// TransferTx executes the whole transfer in one SQL transaction: both balance
// mutations, the log record, and the two ledger→mirror push tasks. Nothing is
// observable until commit; on any failure the transaction rolls back and no
// task exists for the aborted transfer.
func (db *DB) TransferTx(ctx context.Context, senderID, recipientID string, amount, commission int64) (domain.TransactionRecord, error) {
	var rec domain.TransactionRecord

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback()

	totalDebit := amount + commission

	// Debit with the non-negative guard inside the statement.
	var senderBalance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET points = points - ?, updated_at = ?
		WHERE user_id = ? AND status = 'active' AND points >= ?
		RETURNING points
	`, totalDebit, db.stamp(), senderID, totalDebit).Scan(&senderBalance)
	if errors.Is(err, sql.ErrNoRows) {
		if txErr := accountGuardError(ctx, tx, senderID); txErr != nil {
			return rec, txErr
		}
		return rec, domain.ErrInsufficientBalance
	}
	if err != nil {
		return rec, transferStoreErr(err)
	}

	var recipientBalance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET points = points + ?, updated_at = ?
		WHERE user_id = ? AND status = 'active'
		RETURNING points
	`, amount, db.stamp(), recipientID).Scan(&recipientBalance)
	if errors.Is(err, sql.ErrNoRows) {
		if txErr := accountGuardError(ctx, tx, recipientID); txErr != nil {
			return rec, txErr
		}
		return rec, domain.ErrAccountInactive
	}
	if err != nil {
		return rec, transferStoreErr(err)
	}

	now := db.now().UTC()
	rec = domain.TransactionRecord{
		ID:               uuid.NewString(),
		Kind:             domain.TxTransfer,
		SenderID:         senderID,
		RecipientID:      recipientID,
		Amount:           amount,
		Commission:       commission,
		SenderBalance:    senderBalance,
		RecipientBalance: recipientBalance,
		Actor:            senderID,
		Timestamp:        now,
	}
	if err := insertTransactionTx(ctx, tx, rec); err != nil {
		return domain.TransactionRecord{}, err
	}

	// Enqueue one push per affected account, inside the same transaction.
	for _, p := range []struct {
		account string
		value   int64
	}{{senderID, senderBalance}, {recipientID, recipientBalance}} {
		if err := upsertPushTaskTx(ctx, tx, p.account, p.value, now); err != nil {
			return domain.TransactionRecord{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.TransactionRecord{}, transferStoreErr(err)
	}
	return rec, nil
}

// AdjustTx applies a grant or deduction in one SQL transaction: the guarded
// balance update, the log record, and the ledger→mirror push task commit
// together or not at all.
func (db *DB) AdjustTx(ctx context.Context, actorID, accountID string, delta int64, kind domain.TransactionKind, note string) (int64, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin adjust: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts SET points = points + ?, updated_at = ?
		WHERE user_id = ? AND status = 'active' AND points + ? >= 0
		RETURNING points
	`, delta, db.stamp(), accountID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if txErr := accountGuardError(ctx, tx, accountID); txErr != nil {
			return 0, txErr
		}
		return 0, domain.ErrInsufficientBalance
	}
	if err != nil {
		return 0, transferStoreErr(err)
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	now := db.now().UTC()
	rec := domain.TransactionRecord{
		ID:               uuid.NewString(),
		Kind:             kind,
		RecipientID:      accountID,
		Amount:           amount,
		RecipientBalance: balance,
		Actor:            actorID,
		Note:             note,
		Timestamp:        now,
	}
	if err := insertTransactionTx(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := upsertPushTaskTx(ctx, tx, accountID, balance, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, transferStoreErr(err)
	}
	return balance, nil
}

// ApplyMirrorDelta folds an external mirror edit into the ledger and advances
// the baseline, all in one transaction. The origin key makes re-delivery of
// the same edit a no-op: the unique index on transactions.origin rejects the
// duplicate and the fold is skipped.
func (db *DB) ApplyMirrorDelta(ctx context.Context, id string, delta int64, origin string) (bool, int64, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("begin fold: %w", err)
	}
	defer tx.Rollback()

	if origin != "" {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transactions WHERE origin = ?`, origin).Scan(&n); err != nil {
			return false, 0, fmt.Errorf("fold dedup check: %w", err)
		}
		if n > 0 {
			// Already applied by an earlier delivery.
			var balance int64
			if err := tx.QueryRowContext(ctx,
				`SELECT points FROM accounts WHERE user_id = ?`, id).Scan(&balance); err != nil {
				return false, 0, fmt.Errorf("fold balance read: %w", err)
			}
			return false, balance, tx.Commit()
		}
	}

	now := db.now().UTC()
	stamp := formatStamp(now)

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET points = MAX(points + ?, 0),
			last_synced_points = MAX(points + ?, 0),
			last_synced_at = ?, updated_at = ?
		WHERE user_id = ?
		RETURNING points
	`, delta, delta, stamp, stamp, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return false, 0, transferStoreErr(err)
	}

	rec := domain.TransactionRecord{
		ID:               uuid.NewString(),
		Kind:             domain.TxSyncAdjustment,
		RecipientID:      id,
		Amount:           delta,
		RecipientBalance: balance,
		Actor:            "sync",
		Origin:           origin,
		Note:             "external mirror edit",
		Timestamp:        now,
	}
	if err := insertTransactionTx(ctx, tx, rec); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, transferStoreErr(err)
	}
	return true, balance, nil
}

// MarkSynced records a confirmed mirror write: the baseline now equals the
// value the engine pushed.
func (db *DB) MarkSynced(ctx context.Context, id string, value int64, at time.Time) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE accounts SET last_synced_points = ?, last_synced_at = ? WHERE user_id = ?
	`, value, formatStamp(at), id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ─── internal ───────────────────────────────────────────────────────────────

// accountGuardError explains why a guarded UPDATE matched no row: missing
// account, inactive account, or (for the sender) a balance guard rejection
// signalled by returning nil.
func accountGuardError(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM accounts WHERE user_id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("account lookup: %w", err)
	}
	if status != string(domain.StatusActive) {
		return domain.ErrAccountInactive
	}
	return nil
}

func transferStoreErr(err error) error {
	if IsBusy(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
