package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Pending Sync Task Persistence ──────────────────────────────────────────
// Tasks survive process restarts: a crash between ledger commit and mirror
// write never loses the obligation to sync. On restart tasks resume from
// their recorded attempt count.

const taskCols = `id, account_id, direction, value, attempts, status, created_at, not_before, last_error`

func scanTask(row interface{ Scan(...any) error }) (domain.PendingSyncTask, error) {
	var t domain.PendingSyncTask
	var createdAt, notBefore string
	err := row.Scan(&t.ID, &t.AccountID, &t.Direction, &t.Value, &t.Attempts,
		&t.Status, &createdAt, &notBefore, &t.LastError)
	if err != nil {
		return domain.PendingSyncTask{}, err
	}
	t.CreatedAt = parseStamp(createdAt)
	t.NotBefore = parseStamp(notBefore)
	return t, nil
}

// upsertPushTaskTx enqueues a ledger→mirror push inside an existing
// transaction. A live push for the same account is superseded in place: the
// task's value is always the account's latest target balance, so coalescing
// loses nothing.
func upsertPushTaskTx(ctx context.Context, tx *sql.Tx, accountID string, value int64, now time.Time) error {
	stamp := formatStamp(now)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_tasks (id, account_id, direction, value, created_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, direction) WHERE status = 'pending'
		DO UPDATE SET value = excluded.value
	`, uuid.NewString(), accountID, domain.LedgerToMirror, value, stamp, stamp)
	if err != nil {
		return fmt.Errorf("enqueue push task: %w", err)
	}
	return nil
}

// InsertTask persists a task. Ledger→mirror pushes coalesce with an existing
// live push for the same account (latest target balance wins); mirror→ledger
// folds accumulate, the deltas sum.
func (db *DB) InsertTask(ctx context.Context, t domain.PendingSyncTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = db.now().UTC()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.CreatedAt
	}

	if t.Direction == domain.LedgerToMirror {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		defer tx.Rollback()
		if err := upsertPushTaskTx(ctx, tx, t.AccountID, t.Value, t.CreatedAt); err != nil {
			return err
		}
		return tx.Commit()
	}

	_, err := db.db.ExecContext(ctx, `
		INSERT INTO sync_tasks (`+taskCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, direction) WHERE status = 'pending'
		DO UPDATE SET value = sync_tasks.value + excluded.value
	`, t.ID, t.AccountID, t.Direction, t.Value, t.Attempts, t.Status,
		formatStamp(t.CreatedAt), formatStamp(t.NotBefore), t.LastError)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (db *DB) GetTask(ctx context.Context, id string) (domain.PendingSyncTask, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM sync_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingSyncTask{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.PendingSyncTask{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DueTasks returns up to limit pending tasks whose backoff gate has passed,
// oldest creation first, strictly after the (createdAt, id) cursor. This is
// the paging primitive behind the queue's restartable drain.
func (db *DB) DueTasks(ctx context.Context, now time.Time, afterCreated time.Time, afterID string, limit int) ([]domain.PendingSyncTask, error) {
	if limit <= 0 {
		limit = 64
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+taskCols+` FROM sync_tasks
		WHERE status = 'pending' AND not_before <= ?
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at, id
		LIMIT ?
	`, formatStamp(now), formatStamp(afterCreated), formatStamp(afterCreated), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.PendingSyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes a task after confirmed application.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// BumpTask records a failed attempt: attempts+1, new backoff gate, the error
// text for the operator.
func (db *DB) BumpTask(ctx context.Context, id string, notBefore time.Time, lastError string) (domain.PendingSyncTask, error) {
	row := db.db.QueryRowContext(ctx, `
		UPDATE sync_tasks
		SET attempts = attempts + 1, not_before = ?, last_error = ?
		WHERE id = ?
		RETURNING `+taskCols+`
	`, formatStamp(notBefore), lastError, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingSyncTask{}, domain.ErrTaskNotFound
	}
	if err != nil {
		return domain.PendingSyncTask{}, fmt.Errorf("bump task: %w", err)
	}
	return t, nil
}

// MarkTaskFailed transitions a task to the terminal failed state. It stays
// queryable for manual resolution.
func (db *DB) MarkTaskFailed(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx,
		`UPDATE sync_tasks SET status = 'failed' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}
	return nil
}

// FailedTasks returns every task awaiting manual resolution.
func (db *DB) FailedTasks(ctx context.Context) ([]domain.PendingSyncTask, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT `+taskCols+` FROM sync_tasks WHERE status = 'failed'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.PendingSyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PendingTaskCount returns the number of live (not failed) tasks.
func (db *DB) PendingTaskCount(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_tasks WHERE status = 'pending'`).Scan(&n)
	return n, err
}
