package syncqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/sqlite"
)

func newTestQueue(t *testing.T) (*Queue, *sqlite.DB, *recordSink) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sink := &recordSink{}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseBackoff = time.Second
	return New(cfg, db, sink), db, sink
}

type recordSink struct {
	mu     sync.Mutex
	failed []domain.PendingSyncTask
}

func (s *recordSink) ReportSync(context.Context, domain.ReconciliationReport) {}

func (s *recordSink) TaskFailed(_ context.Context, task domain.PendingSyncTask) {
	s.mu.Lock()
	s.failed = append(s.failed, task)
	s.mu.Unlock()
}

func alwaysApply(context.Context, domain.PendingSyncTask) error { return nil }

func neverApply(context.Context, domain.PendingSyncTask) error {
	return fmt.Errorf("mirror unreachable")
}

// ─── Drain ──────────────────────────────────────────────────────────────────

func TestDrain_AppliesAndDeletes(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	for _, account := range []string{"u1", "u2", "u3"} {
		err := q.Enqueue(ctx, domain.PendingSyncTask{
			AccountID: account, Direction: domain.LedgerToMirror, Value: 50,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var applied []string
	res, err := q.Drain(ctx, func(_ context.Context, task domain.PendingSyncTask) error {
		applied = append(applied, task.AccountID)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
	if res.Applied != 3 {
		t.Errorf("Applied = %d, want 3", res.Applied)
	}
	if len(applied) != 3 {
		t.Errorf("apply called %d times, want 3", len(applied))
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("depth after drain = %d, want 0", depth)
	}
}

func TestDrain_OldestFirst(t *testing.T) {
	q, db, _ := newTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, account := range []string{"u1", "u2", "u3"} {
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			AccountID: account, Direction: domain.MirrorToLedger, Value: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Page size 1 forces the cursor path.
	q.config.BatchSize = 1
	var order []string
	_, err := q.Drain(ctx, func(_ context.Context, task domain.PendingSyncTask) error {
		order = append(order, task.AccountID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "u1" || order[1] != "u2" || order[2] != "u3" {
		t.Errorf("drain order = %v, want [u1 u2 u3]", order)
	}
}

func TestDrain_TransientFailureReschedulesWithBackoff(t *testing.T) {
	q, db, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, domain.PendingSyncTask{
		ID: "t1", AccountID: "u1", Direction: domain.MirrorToLedger, Value: 5,
		CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := q.Drain(ctx, neverApply)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rescheduled != 1 {
		t.Fatalf("Rescheduled = %d, want 1", res.Rescheduled)
	}

	task, err := db.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}
	if task.LastError != "mirror unreachable" {
		t.Errorf("LastError = %q", task.LastError)
	}
	wantGate := now.Add(time.Second) // base backoff, zero prior attempts
	if !task.NotBefore.Equal(wantGate) {
		t.Errorf("NotBefore = %v, want %v", task.NotBefore, wantGate)
	}

	// Still gated: an immediate second drain sees nothing due.
	res, err = q.Drain(ctx, neverApply)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rescheduled != 0 {
		t.Error("gated task was drained early")
	}
}

func TestDrain_ExhaustionParksAndNotifies(t *testing.T) {
	q, db, sink := newTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	if err := q.Enqueue(ctx, domain.PendingSyncTask{
		ID: "t1", AccountID: "u1", Direction: domain.LedgerToMirror, Value: 50,
		CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	task, _ := db.DueTasks(ctx, now.Add(time.Second), time.Time{}, "", 1)
	id := task[0].ID

	// MaxAttempts is 3: two drains reschedule, the third parks.
	for i := 0; i < 3; i++ {
		if _, err := q.Drain(ctx, neverApply); err != nil {
			t.Fatal(err)
		}
		now = now.Add(time.Hour) // step past any backoff gate
	}

	failed, err := db.FailedTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != id {
		t.Fatalf("FailedTasks() = %+v, want the parked task", failed)
	}
	if failed[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", failed[0].Attempts)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.failed) != 1 || sink.failed[0].AccountID != "u1" {
		t.Errorf("sink notified %d times, want 1 for u1", len(sink.failed))
	}
}

func TestDrain_CancellationStopsBetweenTasks(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 5; i++ {
		err := q.Enqueue(context.Background(), domain.PendingSyncTask{
			AccountID: fmt.Sprintf("u%d", i), Direction: domain.MirrorToLedger, Value: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	calls := 0
	_, err := q.Drain(ctx, func(context.Context, domain.PendingSyncTask) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	})
	if err == nil {
		t.Fatal("Drain() after cancel = nil, want context error")
	}
	if calls != 2 {
		t.Errorf("apply called %d times after cancel, want 2", calls)
	}
}

// ─── Backoff ────────────────────────────────────────────────────────────────

func TestBackoff_DoublesAndCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseBackoff = time.Second
	cfg.MaxBackoff = 10 * time.Second
	q := New(cfg, nil, nil)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := q.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
