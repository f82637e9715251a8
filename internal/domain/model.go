// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"math"
	"time"
)

// ─── Account Types ──────────────────────────────────────────────────────────

// Role identifies what kind of participant an account belongs to.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusPending  AccountStatus = "pending"
	StatusActive   AccountStatus = "active"
	StatusRejected AccountStatus = "rejected"
	StatusDeleted  AccountStatus = "deleted"
)

// Account is a ledger account. Points is the authoritative balance and is
// never negative. LastSyncedPoints is the engine's private conflict baseline:
// the last balance value this engine itself wrote to (or folded in from) the
// mirror — NOT a copy of live mirror state.
type Account struct {
	UserID           string        `json:"user_id"`
	FullName         string        `json:"full_name"`
	Phone            string        `json:"phone,omitempty"`
	Username         string        `json:"username,omitempty"`
	Role             Role          `json:"role"`
	GroupID          string        `json:"group_id"`
	Points           int64         `json:"points"`
	Status           AccountStatus `json:"status"`
	LastSyncedPoints int64         `json:"last_synced_points"`
	LastSyncedAt     time.Time     `json:"last_synced_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Active reports whether the account may send or receive points.
func (a Account) Active() bool { return a.Status == StatusActive }

// ─── Group Types ────────────────────────────────────────────────────────────

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupActive   GroupStatus = "active"
	GroupArchived GroupStatus = "archived"
)

// Group maps a set of accounts to one mirror sheet. The sheet name determines
// where each member's mirror row lives.
type Group struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	SheetName string      `json:"sheet_name"`
	TeacherID string      `json:"teacher_id"`
	Status    GroupStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ─── Mirror Types ───────────────────────────────────────────────────────────

// MirrorRow is a per-account snapshot read from the tabular mirror store.
// The mirror is externally editable at any time without notice — treat every
// field as an untrusted, eventually-stale view. UpdatedAt is whatever string
// a human or script last wrote into the timestamp column.
type MirrorRow struct {
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name"`
	Phone     string `json:"phone,omitempty"`
	Username  string `json:"username,omitempty"`
	Points    int64  `json:"points"`
	UpdatedAt string `json:"updated_at,omitempty"`

	// RowIndex is the 1-based spreadsheet row this snapshot came from,
	// including the header row. Zero when unknown (e.g. a row to append).
	RowIndex int `json:"row_index,omitempty"`
}

// ─── Commission ─────────────────────────────────────────────────────────────

// Commission computes the transfer fee using half-up rounding.
// rate is a fraction (0.10 = 10%). Commission(20, 0.10) = 2.
func Commission(amount int64, rate float64) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}
	return int64(math.Floor(float64(amount)*rate + 0.5))
}

// SheetStamp is the timestamp layout the engine writes into the mirror's
// last-updated column. Humans edit this column too, so reads accept many
// more layouts than writes produce.
const SheetStamp = "2006-01-02 15:04:05"
