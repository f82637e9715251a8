package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Transfer errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed: store contention exhausted retries")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrSameAccount         = errors.New("sender and recipient must be distinct")

	// Account errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account is not active")
	ErrAccountExists   = errors.New("account already exists")

	// Group errors
	ErrGroupNotFound = errors.New("group not found")

	// Sync errors
	ErrStoreUnavailable       = errors.New("store temporarily unavailable")
	ErrSyncConflictUnresolved = errors.New("sync conflict could not be resolved")
	ErrSyncDisabled           = errors.New("synchronization is disabled")
	ErrQueueExhausted         = errors.New("sync task exceeded max attempts")
	ErrTaskNotFound           = errors.New("pending sync task not found")

	// Configuration errors
	ErrInvalidRate     = errors.New("commission rate out of range [0, 0.5]")
	ErrInvalidInterval = errors.New("sync interval out of range")
)
