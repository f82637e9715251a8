package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/app/reconcile"
	"github.com/scorebridge-network/scorebridge/internal/app/syncqueue"
	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/sheets"
	"github.com/scorebridge-network/scorebridge/internal/infra/sqlite"
)

func newTestScheduler(t *testing.T) (*Scheduler, *sqlite.DB, *sheets.FakeMirror) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mirror := sheets.NewFakeMirror()
	rec := reconcile.New(db, mirror)
	queue := syncqueue.New(syncqueue.DefaultConfig(), db, nil)

	s, err := New(context.Background(), DefaultConfig(), db, rec, queue, mirror, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, db, mirror
}

// ─── Mode ───────────────────────────────────────────────────────────────────

func TestMode_DefaultsEnabled(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if s.Mode() != ModeEnabled {
		t.Errorf("Mode() = %s, want enabled", s.Mode())
	}
}

func TestSetMode_PersistsAcrossRestart(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	if err := s.SetMode(ctx, ModePaused); err != nil {
		t.Fatal(err)
	}

	// A new scheduler over the same store comes up paused.
	rec := reconcile.New(db, mirror)
	queue := syncqueue.New(syncqueue.DefaultConfig(), db, nil)
	restarted, err := New(ctx, DefaultConfig(), db, rec, queue, mirror, nil)
	if err != nil {
		t.Fatal(err)
	}
	if restarted.Mode() != ModePaused {
		t.Errorf("restarted Mode() = %s, want paused", restarted.Mode())
	}
}

func TestSetMode_RejectsUnknown(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if err := s.SetMode(context.Background(), Mode("turbo")); err == nil {
		t.Fatal("SetMode(turbo) = nil, want error")
	}
}

// ─── Interval ───────────────────────────────────────────────────────────────

func TestSetInterval_Bounds(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := s.SetInterval(ctx, time.Second); !errors.Is(err, domain.ErrInvalidInterval) {
		t.Errorf("SetInterval(1s) = %v, want ErrInvalidInterval", err)
	}
	if err := s.SetInterval(ctx, 2*time.Hour); !errors.Is(err, domain.ErrInvalidInterval) {
		t.Errorf("SetInterval(2h) = %v, want ErrInvalidInterval", err)
	}
	if err := s.SetInterval(ctx, 30*time.Second); err != nil {
		t.Fatalf("SetInterval(30s) error: %v", err)
	}
	if s.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", s.Interval())
	}
}

func TestInterval_PersistsAcrossRestart(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	if err := s.SetInterval(ctx, 45*time.Second); err != nil {
		t.Fatal(err)
	}

	rec := reconcile.New(db, mirror)
	queue := syncqueue.New(syncqueue.DefaultConfig(), db, nil)
	restarted, err := New(ctx, DefaultConfig(), db, rec, queue, mirror, nil)
	if err != nil {
		t.Fatal(err)
	}
	if restarted.Interval() != 45*time.Second {
		t.Errorf("restarted Interval() = %v, want 45s", restarted.Interval())
	}
}

// ─── ForceSync ──────────────────────────────────────────────────────────────

func TestForceSync_RefusedWhenDisabled(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := s.SetMode(ctx, ModeDisabled); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ForceSync(ctx, ""); !errors.Is(err, domain.ErrSyncDisabled) {
		t.Fatalf("ForceSync() disabled = %v, want ErrSyncDisabled", err)
	}
}

func TestForceSync_WorksWhilePaused(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	mirror.AddSheet("Group A", domain.MirrorRow{
		UserID: "u1", FullName: "Student u1", Points: 70,
		UpdatedAt: "2026-03-01 09:00:00",
	})
	group, err := db.CreateGroup(ctx, domain.Group{ID: "g1", Name: "Group A", SheetName: "Group A"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateAccount(ctx, domain.Account{
		UserID: "u1", FullName: "Student u1", Role: domain.RoleStudent,
		GroupID: group.ID, Status: domain.StatusActive, Points: 70,
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetMode(ctx, ModePaused); err != nil {
		t.Fatal(err)
	}
	report, err := s.ForceSync(ctx, group.ID)
	if err != nil {
		t.Fatalf("ForceSync() while paused error: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("report = %+v, want 1 skipped (stores agree)", report)
	}
}

func TestForceSync_UnknownGroup(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	if _, err := s.ForceSync(context.Background(), "no-such-group"); !errors.Is(err, domain.ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
}

// ─── Pass ───────────────────────────────────────────────────────────────────

func TestPass_DiscoversTabsAsGroups(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	mirror.AddSheet("Group A")
	mirror.AddSheet("Group B")

	if _, err := s.Pass(ctx); err != nil {
		t.Fatalf("Pass() error: %v", err)
	}

	groups, err := db.ListGroups(ctx, domain.GroupActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("discovered %d groups, want 2", len(groups))
	}
	if groups[0].SheetName != "Group A" || groups[1].SheetName != "Group B" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestPass_EndToEnd_FoldAndPush(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	mirror.AddSheet("Group A", domain.MirrorRow{
		UserID: "u1", FullName: "Student u1", Points: 130, // human added 30
		UpdatedAt: "2026-03-01 09:00:00",
	})
	group, err := db.UpsertGroupBySheet(ctx, "Group A")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateAccount(ctx, domain.Account{
		UserID: "u1", FullName: "Student u1", Role: domain.RoleStudent,
		GroupID: group.ID, Status: domain.StatusActive, Points: 100,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := s.Pass(ctx)
	if err != nil {
		t.Fatalf("Pass() error: %v", err)
	}
	if report.Conflicts != 1 || report.Applied != 1 {
		t.Errorf("report = %+v, want 1 conflict, 1 applied", report)
	}

	// The same pass drained the queue: the mirror write already landed.
	acc, _ := db.GetAccount(ctx, "u1")
	if acc.Points != 130 || acc.LastSyncedPoints != 130 {
		t.Errorf("account = %d/%d, want 130/130", acc.Points, acc.LastSyncedPoints)
	}
	if n, _ := db.PendingTaskCount(ctx); n != 0 {
		t.Errorf("pending tasks = %d, want 0", n)
	}

	total, successful, _, _, err := db.SyncStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || successful != 1 {
		t.Errorf("stats = %d/%d, want one successful pass", successful, total)
	}
}

func TestPass_BadTabDoesNotFreezeOtherGroupsOrQueue(t *testing.T) {
	s, db, mirror := newTestScheduler(t)
	ctx := context.Background()

	// "Broken" has a registered group but its tab is gone from the
	// spreadsheet; it sorts before the healthy group, so a stop-on-first-
	// error pass would never reach "Group A" or the drain.
	if _, err := db.UpsertGroupBySheet(ctx, "Broken"); err != nil {
		t.Fatal(err)
	}
	mirror.AddSheet("Group A", domain.MirrorRow{
		UserID: "u1", FullName: "Student u1", Points: 130,
		UpdatedAt: "2026-03-01 09:00:00",
	})
	group, err := db.UpsertGroupBySheet(ctx, "Group A")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateAccount(ctx, domain.Account{
		UserID: "u1", FullName: "Student u1", Role: domain.RoleStudent,
		GroupID: group.ID, Status: domain.StatusActive, Points: 100,
	}); err != nil {
		t.Fatal(err)
	}

	report, err := s.Pass(ctx)
	if err == nil {
		t.Fatal("Pass() with a broken group = nil, want error")
	}
	if report.Conflicts != 1 {
		t.Errorf("report = %+v, want the healthy group still folded", report)
	}
	if len(report.Errors) != 1 {
		t.Errorf("report errors = %+v, want the broken group recorded", report.Errors)
	}

	// The healthy group fully converged and the queue was still drained.
	acc, _ := db.GetAccount(ctx, "u1")
	if acc.Points != 130 || acc.LastSyncedPoints != 130 {
		t.Errorf("account = %d/%d, want 130/130", acc.Points, acc.LastSyncedPoints)
	}
	if n, _ := db.PendingTaskCount(ctx); n != 0 {
		t.Errorf("pending tasks = %d, want 0", n)
	}
}

// gatedReconciler blocks its first SyncGroup call until released, so tests
// can hold a pass in flight.
type gatedReconciler struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedReconciler) SyncGroup(ctx context.Context, group domain.Group) (domain.ReconciliationReport, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.started)
		<-g.release
	}
	return domain.ReconciliationReport{GroupID: group.ID}, nil
}

func (g *gatedReconciler) ApplyTask(ctx context.Context, task domain.PendingSyncTask) error {
	return nil
}

func (g *gatedReconciler) syncCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestPass_ForceWaitsForInFlightPass(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	mirror := sheets.NewFakeMirror()
	mirror.AddSheet("Group A")
	gated := &gatedReconciler{started: make(chan struct{}), release: make(chan struct{})}
	queue := syncqueue.New(syncqueue.DefaultConfig(), db, nil)
	s, err := New(ctx, DefaultConfig(), db, gated, queue, mirror, nil)
	if err != nil {
		t.Fatal(err)
	}

	passDone := make(chan struct{})
	go func() {
		defer close(passDone)
		if _, err := s.Pass(ctx); err != nil {
			t.Errorf("Pass() error: %v", err)
		}
	}()
	<-gated.started

	forceDone := make(chan struct{})
	go func() {
		defer close(forceDone)
		if _, err := s.ForceSync(ctx, ""); err != nil {
			t.Errorf("ForceSync() error: %v", err)
		}
	}()

	// The forced sync must wait for the in-flight pass, not return an empty
	// report immediately.
	select {
	case <-forceDone:
		t.Fatal("ForceSync returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	for _, done := range []chan struct{}{passDone, forceDone} {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("pass did not finish after release")
		}
	}
	if got := gated.syncCalls(); got != 2 {
		t.Errorf("SyncGroup calls = %d, want 2 (blocked caller ran its own pass)", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
