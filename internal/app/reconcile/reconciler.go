// Package reconcile implements the delta reconciliation pass between the
// ledger and its spreadsheet mirror.
//
// The engine never compares absolute values. Each account carries a private
// baseline: the last balance the engine itself confirmed in the mirror. The
// mirror's movement since that baseline (mirror minus baseline) is an
// external edit and is folded INTO the ledger additively; the ledger's own
// movement is already in its balance. Both kinds of change survive a
// concurrent pass — nothing is overwritten by a stale snapshot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
)

// Store is what the reconciler needs from the ledger store. *sqlite.DB
// satisfies it.
type Store interface {
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	GetAccountsByGroup(ctx context.Context, groupID string) ([]domain.Account, error)
	GetGroup(ctx context.Context, id string) (domain.Group, error)
	ApplyMirrorDelta(ctx context.Context, id string, delta int64, origin string) (bool, int64, error)
	MarkSynced(ctx context.Context, id string, value int64, at time.Time) error
	InsertTask(ctx context.Context, t domain.PendingSyncTask) error
}

// Reconciler runs delta reconciliation passes and applies queued sync tasks.
type Reconciler struct {
	store  Store
	mirror domain.MirrorStore

	// now is an injectable clock for testing.
	now func() time.Time
}

// New creates a reconciler.
func New(store Store, mirror domain.MirrorStore) *Reconciler {
	return &Reconciler{store: store, mirror: mirror, now: time.Now}
}

// SetClock overrides the time source (tests only).
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// ─── Reconciliation Pass ────────────────────────────────────────────────────

// SyncGroup reconciles one group against its mirror tab. Per-account failures
// are isolated into the report; only whole-pass failures (the mirror or the
// account list being unreadable) return an error. The context is checked
// between accounts so cancellation never waits for the whole roster.
func (r *Reconciler) SyncGroup(ctx context.Context, group domain.Group) (report domain.ReconciliationReport, err error) {
	tracer := observability.Default()
	span := tracer.StartSpan(ctx, "reconcile.sync_group", map[string]string{
		"group": group.ID, "sheet": group.SheetName,
	})
	defer func() { tracer.EndSpan(span, err) }()
	return r.syncGroup(ctx, group)
}

func (r *Reconciler) syncGroup(ctx context.Context, group domain.Group) (domain.ReconciliationReport, error) {
	started := r.now()
	report := domain.ReconciliationReport{GroupID: group.ID, StartedAt: started}

	rows, err := r.mirror.ReadRows(ctx, group.SheetName)
	if err != nil {
		observability.SyncPasses.WithLabelValues("error").Inc()
		return report, fmt.Errorf("read mirror %s: %w", group.SheetName, err)
	}
	accounts, err := r.store.GetAccountsByGroup(ctx, group.ID)
	if err != nil {
		observability.SyncPasses.WithLabelValues("error").Inc()
		return report, fmt.Errorf("load group %s: %w", group.ID, err)
	}

	// First mirror row wins when a user id appears twice; duplicates are a
	// human editing accident and the extras are removed below.
	byUser := make(map[string]domain.MirrorRow, len(rows))
	var extras []domain.MirrorRow
	for _, row := range rows {
		if _, dup := byUser[row.UserID]; dup {
			extras = append(extras, row)
			continue
		}
		byUser[row.UserID] = row
	}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			report.Duration = r.now().Sub(started)
			return report, err
		}
		row, present := byUser[acc.UserID]
		if !present {
			r.repairMissingRow(ctx, group, acc, &report)
			continue
		}
		delete(byUser, acc.UserID)
		r.reconcileAccount(ctx, acc, row, &report)
	}

	// Rows left in byUser belong to no active account in this group.
	for _, row := range byUser {
		extras = append(extras, row)
	}
	r.removeExtraRows(ctx, group, extras, &report)

	report.Duration = r.now().Sub(started)
	observability.SyncPasses.WithLabelValues(passOutcome(report)).Inc()
	observability.SyncPassDuration.Observe(report.Duration.Seconds())
	return report, nil
}

// reconcileAccount applies the delta rules to one account present on both
// sides.
func (r *Reconciler) reconcileAccount(ctx context.Context, acc domain.Account, row domain.MirrorRow, report *domain.ReconciliationReport) {
	balance := acc.Points
	folded := false

	if mirrorDelta := row.Points - acc.LastSyncedPoints; mirrorDelta != 0 {
		// The mirror moved since our last confirmed write: an external
		// edit. Fold it in additively; the ledger's own movement is
		// already part of the balance.
		applied, newBalance, err := r.store.ApplyMirrorDelta(ctx, acc.UserID, mirrorDelta,
			foldOrigin(acc, row.Points))
		if err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				// Defer the fold durably rather than losing the edit.
				task := domain.PendingSyncTask{
					AccountID: acc.UserID,
					Direction: domain.MirrorToLedger,
					Value:     mirrorDelta,
				}
				if qErr := r.store.InsertTask(ctx, task); qErr == nil {
					report.Errors = append(report.Errors, domain.AccountError{
						AccountID: acc.UserID, Err: "fold deferred: " + err.Error(),
					})
					return
				}
			}
			report.Errors = append(report.Errors, domain.AccountError{AccountID: acc.UserID, Err: err.Error()})
			return
		}
		balance = newBalance
		folded = applied
		if applied {
			report.Conflicts++
			observability.SyncAdjustments.Inc()
			if acc.Points != acc.LastSyncedPoints {
				// Both stores moved between passes.
				observability.SyncConflicts.Inc()
			}
		}
	}

	// Push when the stores still disagree, and after every fold even if the
	// values now match: the fold must be reflected in the mirror's
	// timestamp column so a human sees the edit was taken.
	if folded || balance != row.Points {
		task := domain.PendingSyncTask{
			AccountID: acc.UserID,
			Direction: domain.LedgerToMirror,
			Value:     balance,
		}
		if err := r.store.InsertTask(ctx, task); err != nil {
			report.Errors = append(report.Errors, domain.AccountError{AccountID: acc.UserID, Err: err.Error()})
			return
		}
		report.Applied++
		return
	}
	report.Skipped++
}

// repairMissingRow appends a mirror row for an account the sheet lost (or
// never had).
func (r *Reconciler) repairMissingRow(ctx context.Context, group domain.Group, acc domain.Account, report *domain.ReconciliationReport) {
	now := r.now()
	row := domain.MirrorRow{
		UserID:    acc.UserID,
		FullName:  acc.FullName,
		Phone:     acc.Phone,
		Username:  acc.Username,
		Points:    acc.Points,
		UpdatedAt: now.UTC().Format(domain.SheetStamp),
	}
	if err := r.mirror.AppendRow(ctx, group.SheetName, row); err != nil {
		report.Errors = append(report.Errors, domain.AccountError{AccountID: acc.UserID, Err: err.Error()})
		return
	}
	if err := r.store.MarkSynced(ctx, acc.UserID, acc.Points, now); err != nil {
		report.Errors = append(report.Errors, domain.AccountError{AccountID: acc.UserID, Err: err.Error()})
		return
	}
	report.Added++
}

// removeExtraRows deletes mirror rows with no active account, bottom-up so
// earlier deletes don't shift the indexes of later ones.
func (r *Reconciler) removeExtraRows(ctx context.Context, group domain.Group, extras []domain.MirrorRow, report *domain.ReconciliationReport) {
	sort.Slice(extras, func(i, j int) bool { return extras[i].RowIndex > extras[j].RowIndex })
	for _, row := range extras {
		if ctx.Err() != nil {
			return
		}
		if err := r.mirror.DeleteRow(ctx, group.SheetName, row.RowIndex); err != nil {
			report.Errors = append(report.Errors, domain.AccountError{AccountID: row.UserID, Err: err.Error()})
			continue
		}
		report.Removed++
	}
}

// ─── Task Application ───────────────────────────────────────────────────────

// ApplyTask performs one queued sync task. It is the apply function handed to
// the queue's drain, and both directions are safe to re-apply: pushes write
// an absolute value, folds are deduplicated by origin.
func (r *Reconciler) ApplyTask(ctx context.Context, task domain.PendingSyncTask) error {
	switch task.Direction {
	case domain.MirrorToLedger:
		return r.traced(ctx, "reconcile.fold", task, r.applyFoldTask)
	case domain.LedgerToMirror:
		return r.traced(ctx, "reconcile.push", task, r.applyPushTask)
	default:
		// Unknown directions would retry forever; drop with a trace.
		log.Printf("[reconcile] dropping task %s with unknown direction %q", task.ID, task.Direction)
		return nil
	}
}

// traced runs one task application under a trace span.
func (r *Reconciler) traced(ctx context.Context, op string, task domain.PendingSyncTask, apply func(context.Context, domain.PendingSyncTask) error) error {
	tracer := observability.Default()
	span := tracer.StartSpan(ctx, op, map[string]string{"account": task.AccountID})
	err := apply(ctx, task)
	tracer.EndSpan(span, err)
	return err
}

func (r *Reconciler) applyFoldTask(ctx context.Context, task domain.PendingSyncTask) error {
	origin := fmt.Sprintf("task:%s:v%d", task.ID, task.Value)
	applied, _, err := r.store.ApplyMirrorDelta(ctx, task.AccountID, task.Value, origin)
	if err != nil {
		return err
	}
	if applied {
		observability.SyncAdjustments.Inc()
	}
	return nil
}

func (r *Reconciler) applyPushTask(ctx context.Context, task domain.PendingSyncTask) error {
	acc, err := r.store.GetAccount(ctx, task.AccountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		// The account is gone; there is nothing left to mirror.
		return nil
	}
	if err != nil {
		return err
	}
	group, err := r.store.GetGroup(ctx, acc.GroupID)
	if err != nil {
		return err
	}

	rows, err := r.mirror.ReadRows(ctx, group.SheetName)
	if err != nil {
		observability.MirrorCalls.WithLabelValues("read", "error").Inc()
		return err
	}
	now := r.now()
	stamp := now.UTC().Format(domain.SheetStamp)

	var target *domain.MirrorRow
	for i := range rows {
		if rows[i].UserID == task.AccountID {
			target = &rows[i]
			break
		}
	}
	if target != nil {
		err = r.mirror.WriteRow(ctx, group.SheetName, target.RowIndex, task.Value, stamp)
	} else {
		err = r.mirror.AppendRow(ctx, group.SheetName, domain.MirrorRow{
			UserID:    acc.UserID,
			FullName:  acc.FullName,
			Phone:     acc.Phone,
			Username:  acc.Username,
			Points:    task.Value,
			UpdatedAt: stamp,
		})
	}
	if err != nil {
		observability.MirrorCalls.WithLabelValues("write", "error").Inc()
		return err
	}
	observability.MirrorCalls.WithLabelValues("write", "ok").Inc()

	// The mirror now shows task.Value; record it as the new baseline.
	return r.store.MarkSynced(ctx, task.AccountID, task.Value, now)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// foldOrigin is the dedup key for a fold. It covers one observation of the
// account: replays of a crashed-and-repeated pass carry the same baseline
// stamp and are discarded, while a later edit back to a previously seen value
// carries a fresher stamp (every fold and every confirmed push advance it)
// and applies normally.
func foldOrigin(acc domain.Account, mirrorPoints int64) string {
	var at int64
	if !acc.LastSyncedAt.IsZero() {
		at = acc.LastSyncedAt.UnixNano()
	}
	return fmt.Sprintf("fold:%s:%d:%d:%d", acc.UserID, acc.LastSyncedPoints, at, mirrorPoints)
}

func passOutcome(report domain.ReconciliationReport) string {
	if len(report.Errors) > 0 {
		return "partial"
	}
	return "ok"
}
