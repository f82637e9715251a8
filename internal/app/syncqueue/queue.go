// Package syncqueue drains the durable pending-sync task queue.
//
// Tasks are persisted rows, not in-memory work items: enqueueing is part of
// the ledger transaction that made the sync necessary, so a crash at any
// point leaves the obligation on disk. The queue walks due tasks oldest
// first, applies each through a caller-supplied function, and either deletes
// the task (applied), reschedules it with exponential backoff (transient
// failure), or parks it as failed for manual resolution (retries exhausted).
package syncqueue

import (
	"context"
	"log"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
)

// Store is the persistence the queue needs. *sqlite.DB satisfies it.
type Store interface {
	InsertTask(ctx context.Context, t domain.PendingSyncTask) error
	DueTasks(ctx context.Context, now time.Time, afterCreated time.Time, afterID string, limit int) ([]domain.PendingSyncTask, error)
	DeleteTask(ctx context.Context, id string) error
	BumpTask(ctx context.Context, id string, notBefore time.Time, lastError string) (domain.PendingSyncTask, error)
	MarkTaskFailed(ctx context.Context, id string) error
	PendingTaskCount(ctx context.Context) (int, error)
}

// ApplyFunc performs one task against the opposite store. A nil return means
// the task's effect is durably visible there.
type ApplyFunc func(ctx context.Context, task domain.PendingSyncTask) error

// Config controls queue behavior.
type Config struct {
	MaxAttempts int           // Failed attempts before a task is parked (default: 5)
	BaseBackoff time.Duration // First retry delay, doubles per attempt (default: 5s)
	MaxBackoff  time.Duration // Backoff ceiling (default: 10m)
	BatchSize   int           // Tasks fetched per page during a drain (default: 64)
}

// DefaultConfig returns safe queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  10 * time.Minute,
		BatchSize:   64,
	}
}

// Queue drains pending sync tasks.
type Queue struct {
	config Config
	store  Store
	sink   domain.NotificationSink

	// now is an injectable clock for testing.
	now func() time.Time
}

// New creates a queue. sink may be nil.
func New(cfg Config, store Store, sink domain.NotificationSink) *Queue {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Queue{config: cfg, store: store, sink: sink, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Enqueue persists a task for later application.
func (q *Queue) Enqueue(ctx context.Context, task domain.PendingSyncTask) error {
	if err := q.store.InsertTask(ctx, task); err != nil {
		return err
	}
	q.gaugeDepth(ctx)
	return nil
}

// Depth returns the number of live tasks.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.PendingTaskCount(ctx)
}

// ─── Drain ──────────────────────────────────────────────────────────────────

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Applied     int // tasks applied and deleted
	Rescheduled int // transient failures, retried later
	Parked      int // tasks moved to the terminal failed state
}

// Drain walks every currently due task once, oldest first, applying each
// with apply. The walk is cursor-paged, so it survives arbitrarily large
// backlogs, and it checks ctx between tasks so shutdown never waits for the
// whole backlog. Per-task failures are absorbed; only infrastructure errors
// (store reads breaking) abort the pass.
func (q *Queue) Drain(ctx context.Context, apply ApplyFunc) (DrainResult, error) {
	var res DrainResult
	var afterCreated time.Time
	var afterID string
	now := q.now()

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tasks, err := q.store.DueTasks(ctx, now, afterCreated, afterID, q.config.BatchSize)
		if err != nil {
			return res, err
		}
		if len(tasks) == 0 {
			break
		}
		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			switch q.runTask(ctx, task, apply) {
			case taskApplied:
				res.Applied++
			case taskRescheduled:
				res.Rescheduled++
			case taskParked:
				res.Parked++
			}
		}
		last := tasks[len(tasks)-1]
		afterCreated, afterID = last.CreatedAt, last.ID
	}

	q.gaugeDepth(ctx)
	return res, nil
}

type taskOutcome int

const (
	taskApplied taskOutcome = iota
	taskRescheduled
	taskParked
)

func (q *Queue) runTask(ctx context.Context, task domain.PendingSyncTask, apply ApplyFunc) taskOutcome {
	err := apply(ctx, task)
	if err == nil {
		if delErr := q.store.DeleteTask(ctx, task.ID); delErr != nil {
			// The task was applied; the next pass re-applies it, which
			// every applier tolerates (pushes are idempotent by value,
			// folds by origin).
			log.Printf("[syncqueue] task %s applied but not deleted: %v", task.ID, delErr)
		}
		return taskApplied
	}

	observability.QueueRetries.Inc()
	bumped, bumpErr := q.store.BumpTask(ctx, task.ID, q.now().Add(q.backoff(task.Attempts)), err.Error())
	if bumpErr != nil {
		log.Printf("[syncqueue] task %s failed and bump failed too: %v (apply: %v)", task.ID, bumpErr, err)
		return taskRescheduled
	}

	if bumped.Attempts < q.config.MaxAttempts {
		return taskRescheduled
	}

	// Retry ceiling hit. The task is parked, never silently dropped.
	if parkErr := q.store.MarkTaskFailed(ctx, task.ID); parkErr != nil {
		log.Printf("[syncqueue] task %s exhausted but park failed: %v", task.ID, parkErr)
		return taskRescheduled
	}
	observability.QueueExhausted.Inc()
	log.Printf("[syncqueue] task %s (%s %s) parked after %d attempts: %v",
		task.ID, bumped.Direction, bumped.AccountID, bumped.Attempts, err)
	if q.sink != nil {
		bumped.Status = domain.TaskFailed
		q.sink.TaskFailed(ctx, bumped)
	}
	return taskParked
}

// backoff returns the delay before the next attempt: base doubled per prior
// failed attempt, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.config.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= q.config.MaxBackoff {
			return q.config.MaxBackoff
		}
	}
	return d
}

func (q *Queue) gaugeDepth(ctx context.Context) {
	if n, err := q.store.PendingTaskCount(ctx); err == nil {
		observability.QueueDepth.Set(float64(n))
	}
}
