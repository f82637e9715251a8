// Package notify delivers operator-facing events: reconciliation summaries
// and sync tasks that exhausted their retries. Sinks must never block or fail
// a reconciliation pass, so delivery is best-effort with short timeouts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/scorebridge-network/scorebridge/internal/domain"
)

// ─── Log Sink ───────────────────────────────────────────────────────────────

// LogSink writes events to the process log. It is the default sink.
type LogSink struct {
	// Verbose also logs passes that found nothing to do.
	Verbose bool
}

var _ domain.NotificationSink = (*LogSink)(nil)

func (s *LogSink) ReportSync(_ context.Context, report domain.ReconciliationReport) {
	busy := report.Applied+report.Conflicts+report.Added+report.Removed+len(report.Errors) > 0
	if !busy && !s.Verbose {
		return
	}
	log.Printf("[sync] group=%s applied=%d folds=%d added=%d removed=%d skipped=%d errors=%d in %v",
		report.GroupID, report.Applied, report.Conflicts, report.Added,
		report.Removed, report.Skipped, len(report.Errors), report.Duration)
	for _, e := range report.Errors {
		log.Printf("[sync] account %s: %s", e.AccountID, e.Err)
	}
}

func (s *LogSink) TaskFailed(_ context.Context, task domain.PendingSyncTask) {
	log.Printf("[sync] ATTENTION: task %s (%s %s, value %d) gave up after %d attempts: %s",
		task.ID, task.Direction, task.AccountID, task.Value, task.Attempts, task.LastError)
}

// ─── Webhook Sink ───────────────────────────────────────────────────────────

// WebhookSink POSTs events as JSON to an operator endpoint (a chat-bot relay
// or an alerting hook). Failures are logged and swallowed.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

var _ domain.NotificationSink = (*WebhookSink)(nil)

// NewWebhookSink creates a sink with a short delivery timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

// event is the wire shape for webhook deliveries.
type event struct {
	Type   string                       `json:"type"` // "sync_report" or "task_failed"
	Report *domain.ReconciliationReport `json:"report,omitempty"`
	Task   *domain.PendingSyncTask      `json:"task,omitempty"`
}

func (s *WebhookSink) ReportSync(ctx context.Context, report domain.ReconciliationReport) {
	s.post(ctx, event{Type: "sync_report", Report: &report})
}

func (s *WebhookSink) TaskFailed(ctx context.Context, task domain.PendingSyncTask) {
	s.post(ctx, event{Type: "task_failed", Task: &task})
}

func (s *WebhookSink) post(ctx context.Context, ev event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[notify] encode %s: %v", ev.Type, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] build %s request: %v", ev.Type, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		log.Printf("[notify] deliver %s: %v", ev.Type, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[notify] deliver %s: %s", ev.Type, resp.Status)
	}
}

// ─── Fanout ─────────────────────────────────────────────────────────────────

// Multi fans one event out to several sinks.
type Multi []domain.NotificationSink

var _ domain.NotificationSink = (Multi)(nil)

func (m Multi) ReportSync(ctx context.Context, report domain.ReconciliationReport) {
	for _, s := range m {
		s.ReportSync(ctx, report)
	}
}

func (m Multi) TaskFailed(ctx context.Context, task domain.PendingSyncTask) {
	for _, s := range m {
		s.TaskFailed(ctx, task)
	}
}

// FromConfig builds the sink stack: always the log, plus a webhook when a
// URL is configured.
func FromConfig(webhookURL string, verbose bool) domain.NotificationSink {
	sinks := Multi{&LogSink{Verbose: verbose}}
	if webhookURL != "" {
		sinks = append(sinks, NewWebhookSink(webhookURL))
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sinks
}

// String names the sink stack for startup logging.
func (m Multi) String() string {
	return fmt.Sprintf("multi(%d sinks)", len(m))
}
