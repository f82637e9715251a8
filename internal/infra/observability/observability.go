// Package observability provides trace spans and Prometheus metrics for the
// sync engine.
//
// This provides:
//   - Trace spans for the sync lifecycle (pull → reconcile → fold → push)
//   - Lightweight in-memory span storage for inspection and export
//   - Prometheus metrics for transfers, reconciliation, and the task queue
package observability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans — Lightweight span tracking without external OTel SDK dependency
// ═══════════════════════════════════════════════════════════════════════════

// SpanKind classifies a span.
type SpanKind int

const (
	SpanInternal SpanKind = iota
	SpanServer
	SpanClient
)

// Span represents a unit of work within a trace.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	Kind      SpanKind          `json:"kind"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer provides lightweight tracing. Spans are kept in a bounded in-memory
// ring for inspection over the API.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// defaultTracer is the process-wide tracer. The sync engine and transfer
// engine record into it, and the API serves its ring at /api/traces.
var defaultTracer = NewTracer(DefaultTracerConfig())

// Default returns the process-wide tracer.
func Default() *Tracer { return defaultTracer }

// StartSpan begins a new span with the given operation name.
// Returns the span (caller must call EndSpan when done).
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if !t.enabled {
		return &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    generateID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		Kind:      SpanInternal,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}

	return span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the recent spans.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	// Return most recent spans
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "scorebridge-trace-id"
	spanIDKey  contextKey = "scorebridge-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

func traceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return generateID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// generateID creates a short unique ID (not cryptographically secure — fine for tracing).
var spanCounter atomic.Int64

func generateID() string {
	n := spanCounter.Add(1)
	return fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), n)
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Transfer Metrics ───────────────────────────────────────────────────────

// TransfersTotal tracks completed transfers by outcome.
var TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "transfer",
	Name:      "operations_total",
	Help:      "Total transfer operations by outcome.",
}, []string{"outcome"})

// CommissionCollected tracks total commission points burned by transfers.
var CommissionCollected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "transfer",
	Name:      "commission_points_total",
	Help:      "Total commission points collected from transfers.",
})

// TransferRetries tracks store contention retries inside transfers.
var TransferRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "transfer",
	Name:      "retries_total",
	Help:      "Total transfer attempts retried after store contention.",
})

// ─── Sync Metrics ───────────────────────────────────────────────────────────

// SyncPasses tracks reconciliation passes by outcome.
var SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "sync",
	Name:      "passes_total",
	Help:      "Total reconciliation passes by outcome.",
}, []string{"outcome"})

// SyncAdjustments tracks mirror edits folded into the ledger.
var SyncAdjustments = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "sync",
	Name:      "adjustments_total",
	Help:      "Total external mirror edits folded into the ledger.",
})

// SyncConflicts tracks accounts where both stores changed between passes.
var SyncConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "sync",
	Name:      "conflicts_total",
	Help:      "Total accounts where ledger and mirror diverged concurrently.",
})

// SyncPassDuration tracks reconciliation pass duration.
var SyncPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "scorebridge",
	Subsystem: "sync",
	Name:      "pass_duration_seconds",
	Help:      "Duration of full reconciliation passes.",
	Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// SyncMode reports the scheduler mode (0=disabled, 1=paused, 2=enabled).
var SyncMode = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "scorebridge",
	Subsystem: "sync",
	Name:      "mode",
	Help:      "Scheduler mode (0=disabled, 1=paused, 2=enabled).",
})

// ─── Queue Metrics ──────────────────────────────────────────────────────────

// QueueDepth tracks the number of live pending sync tasks.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "scorebridge",
	Subsystem: "queue",
	Name:      "depth",
	Help:      "Current number of pending sync tasks.",
})

// QueueRetries tracks task attempts that failed and were rescheduled.
var QueueRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "queue",
	Name:      "retries_total",
	Help:      "Total sync task attempts rescheduled with backoff.",
})

// QueueExhausted tracks tasks that hit the retry ceiling.
var QueueExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "queue",
	Name:      "exhausted_total",
	Help:      "Total sync tasks parked as failed after exhausting retries.",
})

// ─── Mirror Metrics ─────────────────────────────────────────────────────────

// MirrorCalls tracks mirror store calls by operation and outcome.
var MirrorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scorebridge",
	Subsystem: "mirror",
	Name:      "calls_total",
	Help:      "Total mirror store calls by operation and outcome.",
}, []string{"op", "outcome"})
