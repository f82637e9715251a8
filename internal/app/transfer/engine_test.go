package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
)

// fakeStore is an in-memory Store with injectable contention.
type fakeStore struct {
	accounts map[string]*domain.Account
	records  []domain.TransactionRecord
	tasks    []domain.PendingSyncTask
	rate     float64

	// busyFor makes the transactional operations return
	// ErrStoreUnavailable for the first N calls.
	busyFor int
	calls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]*domain.Account), rate: 0.10}
}

func (f *fakeStore) add(id string, points int64) {
	f.accounts[id] = &domain.Account{
		UserID: id, FullName: id, Role: domain.RoleStudent,
		Status: domain.StatusActive, Points: points,
	}
}

func (f *fakeStore) GetAccount(_ context.Context, id string) (domain.Account, error) {
	acc, ok := f.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *acc, nil
}

func (f *fakeStore) GetAccountsByGroup(context.Context, string) ([]domain.Account, error) {
	return nil, nil
}

func (f *fakeStore) AtomicUpdateBalance(_ context.Context, id string, delta, expectMin int64) (int64, error) {
	f.calls++
	if f.calls <= f.busyFor {
		return 0, domain.ErrStoreUnavailable
	}
	acc := f.accounts[id]
	if acc.Points+delta < expectMin {
		return 0, domain.ErrInsufficientBalance
	}
	acc.Points += delta
	return acc.Points, nil
}

func (f *fakeStore) TransferTx(_ context.Context, senderID, recipientID string, amount, commission int64) (domain.TransactionRecord, error) {
	f.calls++
	if f.calls <= f.busyFor {
		return domain.TransactionRecord{}, domain.ErrStoreUnavailable
	}
	sender, recipient := f.accounts[senderID], f.accounts[recipientID]
	if sender.Points < amount+commission {
		return domain.TransactionRecord{}, domain.ErrInsufficientBalance
	}
	sender.Points -= amount + commission
	recipient.Points += amount
	rec := domain.TransactionRecord{
		Kind: domain.TxTransfer, SenderID: senderID, RecipientID: recipientID,
		Amount: amount, Commission: commission,
		SenderBalance: sender.Points, RecipientBalance: recipient.Points,
	}
	f.records = append(f.records, rec)
	f.tasks = append(f.tasks,
		domain.PendingSyncTask{AccountID: senderID, Direction: domain.LedgerToMirror, Value: sender.Points},
		domain.PendingSyncTask{AccountID: recipientID, Direction: domain.LedgerToMirror, Value: recipient.Points})
	return rec, nil
}

func (f *fakeStore) AdjustTx(_ context.Context, actorID, accountID string, delta int64, kind domain.TransactionKind, note string) (int64, error) {
	f.calls++
	if f.calls <= f.busyFor {
		return 0, domain.ErrStoreUnavailable
	}
	acc, ok := f.accounts[accountID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if acc.Points+delta < 0 {
		return 0, domain.ErrInsufficientBalance
	}
	acc.Points += delta
	amount := delta
	if amount < 0 {
		amount = -amount
	}
	f.records = append(f.records, domain.TransactionRecord{
		Kind: kind, RecipientID: accountID, Amount: amount,
		RecipientBalance: acc.Points, Actor: actorID, Note: note,
	})
	f.tasks = append(f.tasks,
		domain.PendingSyncTask{AccountID: accountID, Direction: domain.LedgerToMirror, Value: acc.Points})
	return acc.Points, nil
}

func (f *fakeStore) ApplyMirrorDelta(context.Context, string, int64, string) (bool, int64, error) {
	return false, 0, nil
}

func (f *fakeStore) MarkSynced(context.Context, string, int64, time.Time) error { return nil }

func (f *fakeStore) AppendTransaction(_ context.Context, rec domain.TransactionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) CommissionRate(_ context.Context, _ float64) (float64, error) {
	return f.rate, nil
}

func newEngine(store Store) *Engine {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return New(cfg, store)
}

// ─── Transfer ───────────────────────────────────────────────────────────────

func TestTransfer_DebitsCommissionOnTop(t *testing.T) {
	store := newFakeStore()
	store.add("sender", 100)
	store.add("recipient", 5)
	e := newEngine(store)

	rec, err := e.Transfer(context.Background(), "sender", "recipient", 20)
	if err != nil {
		t.Fatalf("Transfer() error: %v", err)
	}
	if rec.Commission != 2 {
		t.Errorf("Commission = %d, want 2 (10%% of 20, half-up)", rec.Commission)
	}
	if store.accounts["sender"].Points != 78 {
		t.Errorf("sender = %d, want 78", store.accounts["sender"].Points)
	}
	if store.accounts["recipient"].Points != 25 {
		t.Errorf("recipient = %d, want 25", store.accounts["recipient"].Points)
	}
	if len(store.tasks) != 2 {
		t.Errorf("enqueued %d sync tasks, want 2", len(store.tasks))
	}
}

func TestTransfer_InsufficientForAmountPlusCommission(t *testing.T) {
	store := newFakeStore()
	// 20 covers the amount but not amount+commission (22).
	store.add("sender", 21)
	store.add("recipient", 0)
	e := newEngine(store)

	_, err := e.Transfer(context.Background(), "sender", "recipient", 20)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if store.accounts["sender"].Points != 21 || store.accounts["recipient"].Points != 0 {
		t.Error("balances changed on a rejected transfer")
	}
	if len(store.records) != 0 || len(store.tasks) != 0 {
		t.Error("rejected transfer left a record or task behind")
	}
}

func TestTransfer_Validation(t *testing.T) {
	store := newFakeStore()
	store.add("u1", 100)
	inactive := &domain.Account{UserID: "u2", Status: domain.StatusPending, Points: 50}
	store.accounts["u2"] = inactive
	e := newEngine(store)
	ctx := context.Background()

	if _, err := e.Transfer(ctx, "u1", "u1", 10); !errors.Is(err, domain.ErrSameAccount) {
		t.Errorf("self transfer = %v, want ErrSameAccount", err)
	}
	if _, err := e.Transfer(ctx, "u1", "ghost", 10); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("unknown recipient = %v, want ErrAccountNotFound", err)
	}
	if _, err := e.Transfer(ctx, "u1", "u2", 10); !errors.Is(err, domain.ErrAccountInactive) {
		t.Errorf("inactive recipient = %v, want ErrAccountInactive", err)
	}
	if _, err := e.Transfer(ctx, "u1", "u2", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount = %v, want ErrInvalidAmount", err)
	}
	if _, err := e.Transfer(ctx, "u1", "u2", -5); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount = %v, want ErrInvalidAmount", err)
	}
}

func TestTransfer_RetriesContentionThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.add("sender", 100)
	store.add("recipient", 0)
	store.busyFor = 2 // first two attempts hit a busy store
	e := newEngine(store)

	_, err := e.Transfer(context.Background(), "sender", "recipient", 20)
	if err != nil {
		t.Fatalf("Transfer() after contention error: %v", err)
	}
	if store.accounts["sender"].Points != 78 {
		t.Errorf("sender = %d, want 78", store.accounts["sender"].Points)
	}
}

func TestTransfer_ContentionExhaustionFailsWhole(t *testing.T) {
	store := newFakeStore()
	store.add("sender", 100)
	store.add("recipient", 0)
	store.busyFor = 10 // more than MaxRetries
	e := newEngine(store)

	_, err := e.Transfer(context.Background(), "sender", "recipient", 20)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if store.accounts["sender"].Points != 100 || store.accounts["recipient"].Points != 0 {
		t.Error("balances changed on a failed transfer")
	}
}

func TestTransfer_RecordsTraceSpan(t *testing.T) {
	store := newFakeStore()
	store.add("sender", 100)
	store.add("recipient", 0)
	e := newEngine(store)
	observability.Default().Reset()

	if _, err := e.Transfer(context.Background(), "sender", "recipient", 20); err != nil {
		t.Fatal(err)
	}

	for _, span := range observability.Default().Spans(0) {
		if span.Operation == "transfer.execute" {
			if span.Attrs["sender"] != "sender" || span.Attrs["recipient"] != "recipient" {
				t.Errorf("span attrs = %+v", span.Attrs)
			}
			return
		}
	}
	t.Error("no transfer.execute span recorded")
}

// ─── Grant / Deduct ─────────────────────────────────────────────────────────

func TestGrant_CreditsAndEnqueuesPush(t *testing.T) {
	store := newFakeStore()
	store.add("u1", 10)
	e := newEngine(store)

	balance, err := e.Grant(context.Background(), "teacher-1", "u1", 15, "quiz prize")
	if err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if balance != 25 {
		t.Errorf("balance = %d, want 25", balance)
	}
	if len(store.records) != 1 || store.records[0].Kind != domain.TxCredit {
		t.Fatalf("records = %+v, want one credit", store.records)
	}
	if store.records[0].Actor != "teacher-1" {
		t.Errorf("actor = %q, want teacher-1", store.records[0].Actor)
	}
	if len(store.tasks) != 1 || store.tasks[0].Value != 25 {
		t.Fatalf("tasks = %+v, want one push with target 25", store.tasks)
	}
}

func TestDeduct_GuardsAgainstOverdraw(t *testing.T) {
	store := newFakeStore()
	store.add("u1", 10)
	e := newEngine(store)

	if _, err := e.Deduct(context.Background(), "teacher-1", "u1", 30, ""); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if store.accounts["u1"].Points != 10 {
		t.Errorf("balance = %d, want 10 (unchanged)", store.accounts["u1"].Points)
	}

	balance, err := e.Deduct(context.Background(), "teacher-1", "u1", 4, "late")
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if balance != 6 {
		t.Errorf("balance = %d, want 6", balance)
	}
	if store.records[len(store.records)-1].Kind != domain.TxDebit {
		t.Error("missing debit record")
	}
}
