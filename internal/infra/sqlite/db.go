// Package sqlite is the ledger store adapter: accounts, the append-only
// transaction log, pending sync tasks, groups, and runtime settings all live
// in one SQLite file. Balance mutations go through single-statement or
// single-transaction updates so atomicity is the store's job, never the
// caller's.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and owns all SQL in the project.
type DB struct {
	db *sql.DB

	// now is an injectable clock for testing.
	now func() time.Time
}

// Open opens (or creates) the ledger database and applies migrations.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// modernc/sqlite serializes writes; a single connection avoids spurious
	// SQLITE_BUSY between our own goroutines.
	conn.SetMaxOpenConns(1)

	db := &DB{db: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// SetClock overrides the time source (tests only).
func (db *DB) SetClock(now func() time.Time) { db.now = now }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements. Each string is a single SQL
// statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id            TEXT PRIMARY KEY,
			full_name          TEXT NOT NULL,
			phone              TEXT NOT NULL DEFAULT '',
			username           TEXT NOT NULL DEFAULT '',
			role               TEXT NOT NULL DEFAULT 'student',
			group_id           TEXT NOT NULL DEFAULT '',
			points             INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
			status             TEXT NOT NULL DEFAULT 'pending',
			last_synced_points INTEGER NOT NULL DEFAULT 0,
			last_synced_at     TEXT,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_group ON accounts(group_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_ranking ON accounts(role, status, points)`,

		// Append-only transaction log. Rows are never updated or deleted.
		`CREATE TABLE IF NOT EXISTS transactions (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			sender_id         TEXT NOT NULL DEFAULT '',
			recipient_id      TEXT NOT NULL,
			amount            INTEGER NOT NULL,
			commission        INTEGER NOT NULL DEFAULT 0,
			sender_balance    INTEGER NOT NULL DEFAULT 0,
			recipient_balance INTEGER NOT NULL DEFAULT 0,
			actor             TEXT NOT NULL DEFAULT '',
			origin            TEXT NOT NULL DEFAULT '',
			note              TEXT NOT NULL DEFAULT '',
			timestamp         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_time ON transactions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_kind ON transactions(kind, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_sender ON transactions(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_recipient ON transactions(recipient_id)`,
		// One sync-adjustment per origin — how re-delivered mirror edits are
		// detected and skipped.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_origin ON transactions(origin) WHERE origin != ''`,

		// Durable pending sync tasks. One live push per account+direction:
		// a newer target balance supersedes an unapplied older one.
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			direction  TEXT NOT NULL,
			value      INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			not_before TEXT NOT NULL,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_task_live
			ON sync_tasks(account_id, direction) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_task_due ON sync_tasks(status, not_before, created_at)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			sheet_name TEXT NOT NULL,
			teacher_id TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_sheet ON groups(sheet_name)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// IsBusy reports whether err is SQLite telling us the database is locked by
// a concurrent writer — the retryable contention case.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// stampLayout is RFC 3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing fractional zeros, and the task and log queries compare these
// columns as text: "…00.5Z" would sort after "…00.5000001Z". Fixed width
// keeps lexicographic order chronological.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (db *DB) stamp() string { return db.now().UTC().Format(stampLayout) }

func formatStamp(t time.Time) string { return t.UTC().Format(stampLayout) }

func parseStamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
