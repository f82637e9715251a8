package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

func TestInsertTask_PushCoalesces(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, value := range []int64{10, 25, 40} {
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			AccountID: "u1",
			Direction: domain.LedgerToMirror,
			Value:     value,
		})
		if err != nil {
			t.Fatalf("InsertTask(%d) error: %v", value, err)
		}
	}

	n, err := db.PendingTaskCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("pending tasks = %d, want 1 (pushes coalesce per account)", n)
	}

	tasks, err := db.DueTasks(ctx, time.Now().Add(time.Minute), time.Time{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Value != 40 {
		t.Errorf("coalesced value = %d, want 40 (latest target balance wins)", tasks[0].Value)
	}
}

func TestInsertTask_FoldDeltasAccumulate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, delta := range []int64{10, -3} {
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			AccountID: "u1",
			Direction: domain.MirrorToLedger,
			Value:     delta,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := db.DueTasks(ctx, time.Now().Add(time.Minute), time.Time{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Value != 7 {
		t.Errorf("accumulated delta = %d, want 7", tasks[0].Value)
	}
}

func TestDueTasks_OrderAndBackoffGate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	insert := func(id, account string, createdAt, notBefore time.Time) {
		t.Helper()
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			ID:        id,
			AccountID: account,
			Direction: domain.MirrorToLedger,
			Value:     1,
			CreatedAt: createdAt,
			NotBefore: notBefore,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	insert("t-b", "u2", base.Add(2*time.Second), base.Add(2*time.Second))
	insert("t-a", "u1", base.Add(1*time.Second), base.Add(1*time.Second))
	insert("t-c", "u3", base.Add(3*time.Second), base.Add(time.Hour)) // backing off

	tasks, err := db.DueTasks(ctx, base.Add(10*time.Second), time.Time{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("due tasks = %d, want 2 (one gated by backoff)", len(tasks))
	}
	if tasks[0].ID != "t-a" || tasks[1].ID != "t-b" {
		t.Errorf("order = [%s %s], want [t-a t-b] (creation order)", tasks[0].ID, tasks[1].ID)
	}
}

func TestDueTasks_FractionalSecondStampsStayChronological(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	// A half-second stamp plus one a few nanoseconds later. With trimmed
	// fractional digits "…0.5Z" sorts after "…0.500000100Z" as text, which
	// would misorder the queue and hide due tasks.
	base := time.Date(2026, 3, 1, 10, 0, 0, 500_000_000, time.UTC)

	for i, account := range []string{"u1", "u2"} {
		at := base.Add(time.Duration(i) * 100 * time.Nanosecond)
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			AccountID: account,
			Direction: domain.MirrorToLedger,
			Value:     1,
			CreatedAt: at,
			NotBefore: at,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	now := base.Add(time.Microsecond)
	tasks, err := db.DueTasks(ctx, now, time.Time{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("due tasks = %d, want 2", len(tasks))
	}
	if tasks[0].AccountID != "u1" || tasks[1].AccountID != "u2" {
		t.Errorf("order = [%s %s], want [u1 u2]", tasks[0].AccountID, tasks[1].AccountID)
	}

	next, err := db.DueTasks(ctx, now, tasks[0].CreatedAt, tasks[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 1 || next[0].AccountID != "u2" {
		t.Fatalf("page after first task = %+v, want exactly u2", next)
	}
}

func TestDueTasks_CursorPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, account := range []string{"u1", "u2", "u3"} {
		err := db.InsertTask(ctx, domain.PendingSyncTask{
			AccountID: account,
			Direction: domain.MirrorToLedger,
			Value:     1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	now := base.Add(time.Minute)
	first, err := db.DueTasks(ctx, now, time.Time{}, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first page = %d tasks, want 2", len(first))
	}

	last := first[len(first)-1]
	second, err := db.DueTasks(ctx, now, last.CreatedAt, last.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 {
		t.Fatalf("second page = %d tasks, want 1", len(second))
	}
	if second[0].AccountID != "u3" {
		t.Errorf("second page account = %s, want u3", second[0].AccountID)
	}
}

func TestBumpTask_RecordsAttemptAndGate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := domain.PendingSyncTask{ID: "t1", AccountID: "u1", Direction: domain.MirrorToLedger, Value: 5}
	if err := db.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	gate := time.Now().Add(30 * time.Second)
	got, err := db.BumpTask(ctx, "t1", gate, "mirror unreachable")
	if err != nil {
		t.Fatalf("BumpTask() error: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "mirror unreachable" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.NotBefore.Before(gate.Add(-time.Second)) {
		t.Errorf("NotBefore = %v, want ≈ %v", got.NotBefore, gate)
	}
}

func TestMarkTaskFailed_StaysQueryable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertTask(ctx, domain.PendingSyncTask{ID: "t1", AccountID: "u1", Direction: domain.MirrorToLedger, Value: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkTaskFailed(ctx, "t1"); err != nil {
		t.Fatal(err)
	}

	// Out of the due rotation…
	due, _ := db.DueTasks(ctx, time.Now().Add(time.Minute), time.Time{}, "", 10)
	if len(due) != 0 {
		t.Errorf("failed task still due: %d", len(due))
	}
	// …but never dropped.
	failed, err := db.FailedTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != "t1" {
		t.Fatalf("FailedTasks() = %+v, want [t1]", failed)
	}
}

func TestTasks_SurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	task := domain.PendingSyncTask{ID: "t1", AccountID: "u1", Direction: domain.LedgerToMirror, Value: 77}
	if err := db.InsertTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	if _, err := db.BumpTask(ctx, taskIDForAccount(t, db, "u1"), time.Now(), "transient"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	tasks, err := reopened.DueTasks(ctx, time.Now().Add(time.Minute), time.Time{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks after reopen = %d, want 1", len(tasks))
	}
	if tasks[0].Value != 77 || tasks[0].Attempts != 1 {
		t.Errorf("task after reopen = %+v, want value 77, attempts 1", tasks[0])
	}
}

func TestDeleteTask(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertTask(ctx, domain.PendingSyncTask{ID: "t1", AccountID: "u1", Direction: domain.MirrorToLedger, Value: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTask(ctx, "t1"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("double delete = %v, want ErrTaskNotFound", err)
	}
}

// taskIDForAccount fetches the live push task id for an account. Push tasks
// coalesce, so their ids are assigned by the store.
func taskIDForAccount(t *testing.T, db *DB, account string) string {
	t.Helper()
	tasks, err := db.DueTasks(context.Background(), time.Now().Add(time.Minute), time.Time{}, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if task.AccountID == account {
			return task.ID
		}
	}
	t.Fatalf("no live task for %s", account)
	return ""
}
