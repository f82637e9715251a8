// Package scheduler drives periodic reconciliation.
//
// The scheduler owns the sync cadence and the operator controls over it:
//   - ENABLED: passes run on the interval
//   - PAUSED: the loop keeps ticking but skips passes; ForceSync still works
//   - DISABLED: nothing runs, ForceSync included, until re-enabled
//
// Mode and interval are persisted, so an operator's pause survives a restart.
// A pass is: discover mirror tabs as groups, reconcile each active group,
// then drain the pending task queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/app/syncqueue"
	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
)

// ─── Modes ──────────────────────────────────────────────────────────────────

// Mode is the scheduler's operating state.
type Mode string

const (
	ModeEnabled  Mode = "enabled"
	ModePaused   Mode = "paused"
	ModeDisabled Mode = "disabled"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeEnabled || m == ModePaused || m == ModeDisabled
}

func (m Mode) gauge() float64 {
	switch m {
	case ModeEnabled:
		return 2
	case ModePaused:
		return 1
	default:
		return 0
	}
}

// ─── Interval Bounds ────────────────────────────────────────────────────────

const (
	MinInterval = 5 * time.Second
	MaxInterval = time.Hour
)

// ─── Dependencies ───────────────────────────────────────────────────────────

// Store is what the scheduler needs from the ledger store. *sqlite.DB
// satisfies it.
type Store interface {
	ListGroups(ctx context.Context, status domain.GroupStatus) ([]domain.Group, error)
	UpsertGroupBySheet(ctx context.Context, sheetName string) (domain.Group, error)
	SyncInterval(ctx context.Context, fallback int) (int, error)
	SetSyncInterval(ctx context.Context, seconds int) error
	SyncMode(ctx context.Context, fallback string) (string, error)
	SetSyncMode(ctx context.Context, mode string) error
	RecordSyncOutcome(ctx context.Context, ok bool, lastError string) error
}

// Reconciler reconciles groups and applies queued tasks.
type Reconciler interface {
	SyncGroup(ctx context.Context, group domain.Group) (domain.ReconciliationReport, error)
	ApplyTask(ctx context.Context, task domain.PendingSyncTask) error
}

// Queue drains the durable task queue.
type Queue interface {
	Drain(ctx context.Context, apply syncqueue.ApplyFunc) (syncqueue.DrainResult, error)
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Config controls scheduler behavior.
type Config struct {
	Interval time.Duration // Pass cadence when nothing is persisted (default: 10s)
	Discover bool          // Auto-register mirror tabs as groups (default: true)
}

// DefaultConfig returns safe scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Discover: true,
	}
}

// Scheduler runs reconciliation passes on a cadence.
type Scheduler struct {
	config     Config
	store      Store
	reconciler Reconciler
	queue      Queue
	mirror     domain.MirrorStore
	sink       domain.NotificationSink

	// passMu serializes passes: a forced sync arriving during a tick waits
	// for the tick's pass and then runs its own, so callers always get a
	// real report.
	passMu sync.Mutex

	mu       sync.Mutex
	mode     Mode
	interval time.Duration
	lastPass domain.ReconciliationReport
	lastErr  string
	syncing  bool
}

// New creates a scheduler. Persisted mode and interval override the config
// defaults. sink may be nil.
func New(ctx context.Context, cfg Config, store Store, rec Reconciler, queue Queue, mirror domain.MirrorStore, sink domain.NotificationSink) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	s := &Scheduler{
		config:     cfg,
		store:      store,
		reconciler: rec,
		queue:      queue,
		mirror:     mirror,
		sink:       sink,
	}

	stored, err := store.SyncMode(ctx, string(ModeEnabled))
	if err != nil {
		return nil, fmt.Errorf("load sync mode: %w", err)
	}
	s.mode = Mode(stored)
	if !s.mode.Valid() {
		s.mode = ModeEnabled
	}
	observability.SyncMode.Set(s.mode.gauge())

	seconds, err := store.SyncInterval(ctx, int(cfg.Interval/time.Second))
	if err != nil {
		return nil, fmt.Errorf("load sync interval: %w", err)
	}
	s.interval = clampInterval(time.Duration(seconds) * time.Second)
	return s, nil
}

// Mode returns the current operating state.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode transitions the scheduler and persists the new state.
func (s *Scheduler) SetMode(ctx context.Context, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown sync mode %q", mode)
	}
	if err := s.store.SetSyncMode(ctx, string(mode)); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.mode
	s.mode = mode
	s.mu.Unlock()
	observability.SyncMode.Set(mode.gauge())
	if prev != mode {
		log.Printf("[scheduler] mode %s -> %s", prev, mode)
	}
	return nil
}

// Interval returns the current pass cadence.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval validates, persists, and applies a new cadence. The running
// loop picks it up at its next wake.
func (s *Scheduler) SetInterval(ctx context.Context, d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return fmt.Errorf("%w: %v (allowed %v..%v)", domain.ErrInvalidInterval, d, MinInterval, MaxInterval)
	}
	if err := s.store.SetSyncInterval(ctx, int(d/time.Second)); err != nil {
		return err
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	return nil
}

// Status is an operator-facing snapshot.
type Status struct {
	Mode     Mode                        `json:"mode"`
	Interval time.Duration               `json:"interval"`
	Syncing  bool                        `json:"syncing"`
	LastPass domain.ReconciliationReport `json:"last_pass"`
	LastErr  string                      `json:"last_error,omitempty"`
}

// Status returns the current snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Mode:     s.mode,
		Interval: s.interval,
		Syncing:  s.syncing,
		LastPass: s.lastPass,
		LastErr:  s.lastErr,
	}
}

// ─── Run Loop ───────────────────────────────────────────────────────────────

// Run drives passes until ctx is cancelled. PAUSED ticks are skipped cheaply;
// the loop never blocks shutdown for longer than one pass.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("[scheduler] running, mode=%s interval=%v", s.Mode(), s.Interval())
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if s.Mode() == ModeEnabled {
			if _, err := s.Pass(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[scheduler] pass failed: %v", err)
			}
		}
		timer.Reset(s.Interval())
	}
}

// ForceSync runs one synchronous pass, regardless of pause state. groupID
// narrows the pass to one group; empty means all. Refused when DISABLED.
func (s *Scheduler) ForceSync(ctx context.Context, groupID string) (domain.ReconciliationReport, error) {
	if s.Mode() == ModeDisabled {
		return domain.ReconciliationReport{}, domain.ErrSyncDisabled
	}
	if groupID == "" {
		return s.Pass(ctx)
	}

	groups, err := s.store.ListGroups(ctx, domain.GroupActive)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	for _, g := range groups {
		if g.ID == groupID {
			s.passMu.Lock()
			defer s.passMu.Unlock()
			s.setSyncing(true)
			defer s.setSyncing(false)

			report, err := s.syncGroups(ctx, []domain.Group{g})
			s.finishPass(ctx, report, err)
			return report, err
		}
	}
	return domain.ReconciliationReport{}, domain.ErrGroupNotFound
}

// Pass reconciles every active group and drains the task queue once. Passes
// never overlap; a concurrent caller blocks until the in-flight pass finishes
// and then runs its own.
func (s *Scheduler) Pass(ctx context.Context) (domain.ReconciliationReport, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.setSyncing(true)
	defer s.setSyncing(false)

	if s.config.Discover {
		if err := s.discoverGroups(ctx); err != nil {
			s.finishPass(ctx, domain.ReconciliationReport{}, err)
			return domain.ReconciliationReport{}, err
		}
	}
	groups, err := s.store.ListGroups(ctx, domain.GroupActive)
	if err != nil {
		s.finishPass(ctx, domain.ReconciliationReport{}, err)
		return domain.ReconciliationReport{}, err
	}

	report, err := s.syncGroups(ctx, groups)
	s.finishPass(ctx, report, err)
	return report, err
}

// discoverGroups registers every mirror tab as a group so a teacher can add
// a class by adding a tab.
func (s *Scheduler) discoverGroups(ctx context.Context) error {
	names, err := s.mirror.ListSheets(ctx)
	if err != nil {
		return fmt.Errorf("discover groups: %w", err)
	}
	for _, name := range names {
		if _, err := s.store.UpsertGroupBySheet(ctx, name); err != nil {
			return fmt.Errorf("register group %q: %w", name, err)
		}
	}
	return nil
}

// syncGroups reconciles each group in turn. One unreadable tab must not
// freeze the rest of the fleet or the queue: failures are collected into the
// report and the drain always runs. Only cancellation aborts early.
func (s *Scheduler) syncGroups(ctx context.Context, groups []domain.Group) (domain.ReconciliationReport, error) {
	var total domain.ReconciliationReport
	var failed []error
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		report, err := s.reconciler.SyncGroup(ctx, group)
		total.Merge(report)
		if err != nil {
			total.Errors = append(total.Errors, domain.AccountError{
				AccountID: "group:" + group.ID, Err: err.Error(),
			})
			failed = append(failed, fmt.Errorf("group %s: %w", group.ID, err))
		}
	}
	if _, err := s.queue.Drain(ctx, s.reconciler.ApplyTask); err != nil {
		failed = append(failed, fmt.Errorf("drain queue: %w", err))
	}
	return total, errors.Join(failed...)
}

// finishPass records the outcome durably and notifies the sink.
func (s *Scheduler) finishPass(ctx context.Context, report domain.ReconciliationReport, passErr error) {
	errText := ""
	if passErr != nil {
		errText = passErr.Error()
	}
	s.mu.Lock()
	s.lastPass = report
	s.lastErr = errText
	s.mu.Unlock()

	if err := s.store.RecordSyncOutcome(ctx, passErr == nil, errText); err != nil && ctx.Err() == nil {
		log.Printf("[scheduler] record outcome: %v", err)
	}
	if s.sink != nil && passErr == nil {
		s.sink.ReportSync(ctx, report)
	}
}

func (s *Scheduler) setSyncing(v bool) {
	s.mu.Lock()
	s.syncing = v
	s.mu.Unlock()
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}
