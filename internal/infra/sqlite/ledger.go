package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Transaction Log Operations ─────────────────────────────────────────────
// The log is append-only and ordered by timestamp. Nothing here mutates or
// deletes existing rows.

const txCols = `id, kind, sender_id, recipient_id, amount, commission,
	sender_balance, recipient_balance, actor, origin, note, timestamp`

func insertTransactionTx(ctx context.Context, tx *sql.Tx, rec domain.TransactionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (`+txCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, rec.SenderID, rec.RecipientID, rec.Amount, rec.Commission,
		rec.SenderBalance, rec.RecipientBalance, rec.Actor, rec.Origin, rec.Note,
		formatStamp(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// AppendTransaction appends a single log entry outside any larger transaction.
func (db *DB) AppendTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	defer tx.Rollback()
	if err := insertTransactionTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentTransactions returns the newest entries, optionally filtered by kind.
func (db *DB) RecentTransactions(ctx context.Context, kind domain.TransactionKind, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryTransactions(ctx, `
		SELECT `+txCols+` FROM transactions
		WHERE (? = '' OR kind = ?)
		ORDER BY timestamp DESC LIMIT ?
	`, kind, kind, limit)
}

// AccountHistory returns the newest entries involving the given account,
// whichever side it was on.
func (db *DB) AccountHistory(ctx context.Context, id string, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	return db.queryTransactions(ctx, `
		SELECT `+txCols+` FROM transactions
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY timestamp DESC LIMIT ?
	`, id, id, limit)
}

// SyncAdjustmentByOrigin looks up the sync-adjustment produced by a given
// origin key, if any. Used to verify fold idempotence.
func (db *DB) SyncAdjustmentByOrigin(ctx context.Context, origin string) (domain.TransactionRecord, bool, error) {
	recs, err := db.queryTransactions(ctx,
		`SELECT `+txCols+` FROM transactions WHERE origin = ?`, origin)
	if err != nil {
		return domain.TransactionRecord{}, false, err
	}
	if len(recs) == 0 {
		return domain.TransactionRecord{}, false, nil
	}
	return recs[0], true, nil
}

func (db *DB) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.TransactionRecord, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var recs []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.SenderID, &rec.RecipientID,
			&rec.Amount, &rec.Commission, &rec.SenderBalance, &rec.RecipientBalance,
			&rec.Actor, &rec.Origin, &rec.Note, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp = parseStamp(ts)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountTransactions returns the total number of log entries (tests, stats).
func (db *DB) CountTransactions(ctx context.Context, kind domain.TransactionKind) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE (? = '' OR kind = ?)`, kind, kind).Scan(&n)
	return n, err
}
