package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Runtime Settings ───────────────────────────────────────────────────────
// Operator-adjustable knobs persist across restarts; config file values are
// only the initial defaults.

// Setting keys.
const (
	SettingCommissionRate = "commission_rate"
	SettingSyncInterval   = "sync_interval_seconds"
	SettingSyncMode       = "sync_mode"
	SettingTotalSyncs     = "sync_total"
	SettingGoodSyncs      = "sync_successful"
	SettingBadSyncs       = "sync_failed"
	SettingLastSyncError  = "sync_last_error"
)

func (db *DB) getSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := db.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetSetting upserts one setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// CommissionRate returns the persisted rate, or fallback when none is stored.
func (db *DB) CommissionRate(ctx context.Context, fallback float64) (float64, error) {
	v, ok, err := db.getSetting(ctx, SettingCommissionRate)
	if err != nil || !ok {
		return fallback, err
	}
	rate, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, nil
	}
	return rate, nil
}

// SetCommissionRate validates and persists the rate.
func (db *DB) SetCommissionRate(ctx context.Context, rate float64) error {
	if rate < 0 || rate > 0.5 {
		return domain.ErrInvalidRate
	}
	return db.SetSetting(ctx, SettingCommissionRate, strconv.FormatFloat(rate, 'f', -1, 64))
}

// SyncInterval returns the persisted interval in seconds, or fallback.
func (db *DB) SyncInterval(ctx context.Context, fallback int) (int, error) {
	v, ok, err := db.getSetting(ctx, SettingSyncInterval)
	if err != nil || !ok {
		return fallback, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// SyncMode returns the persisted scheduler mode, or fallback when none is
// stored.
func (db *DB) SyncMode(ctx context.Context, fallback string) (string, error) {
	v, ok, err := db.getSetting(ctx, SettingSyncMode)
	if err != nil || !ok {
		return fallback, err
	}
	return v, nil
}

// SetSyncMode persists the scheduler mode.
func (db *DB) SetSyncMode(ctx context.Context, mode string) error {
	return db.SetSetting(ctx, SettingSyncMode, mode)
}

// SetSyncInterval persists the interval in seconds.
func (db *DB) SetSyncInterval(ctx context.Context, seconds int) error {
	return db.SetSetting(ctx, SettingSyncInterval, strconv.Itoa(seconds))
}

// RecordSyncOutcome bumps the persisted sync statistics after each pass.
func (db *DB) RecordSyncOutcome(ctx context.Context, ok bool, lastError string) error {
	if err := db.bumpCounter(ctx, SettingTotalSyncs); err != nil {
		return err
	}
	if ok {
		return db.bumpCounter(ctx, SettingGoodSyncs)
	}
	if err := db.bumpCounter(ctx, SettingBadSyncs); err != nil {
		return err
	}
	return db.SetSetting(ctx, SettingLastSyncError, lastError)
}

// SyncStats returns the persisted pass counters.
func (db *DB) SyncStats(ctx context.Context) (total, successful, failed int, lastError string, err error) {
	total, _ = db.counter(ctx, SettingTotalSyncs)
	successful, _ = db.counter(ctx, SettingGoodSyncs)
	failed, _ = db.counter(ctx, SettingBadSyncs)
	lastError, _, err = db.getSetting(ctx, SettingLastSyncError)
	return total, successful, failed, lastError, err
}

func (db *DB) bumpCounter(ctx context.Context, key string) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, '1')
		ON CONFLICT (key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`, key)
	if err != nil {
		return fmt.Errorf("bump %s: %w", key, err)
	}
	return nil
}

func (db *DB) counter(ctx context.Context, key string) (int, error) {
	v, ok, err := db.getSetting(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, _ := strconv.Atoi(v)
	return n, nil
}
