package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension              = (*Extension)(nil)
	_ ext.RecordSubmitted        = (*Extension)(nil)
	_ ext.ReconciliationRequired = (*Extension)(nil)
	_ ext.TaskEnqueued           = (*Extension)(nil)
	_ ext.TaskCompleted          = (*Extension)(nil)
	_ ext.TaskRetrying           = (*Extension)(nil)
	_ ext.TaskDeadLettered       = (*Extension)(nil)
	_ ext.TaskRequeued           = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a Recorder that logs each event under the "audit"
// group. A nil logger uses slog.Default.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record logs evt at a level matching its severity.
func (r *LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := make([]any, 0, len(evt.Metadata))
	for k, v := range evt.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	r.logger.Log(ctx, level, "audit",
		slog.Group("audit",
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.Group("meta", attrs...),
		),
	)
	return nil
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges storemesh lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Record lifecycle hooks ──────────────────────────

// OnRecordSubmitted implements ext.RecordSubmitted.
func (e *Extension) OnRecordSubmitted(ctx context.Context, r *record.Record, pending int, elapsed time.Duration) error {
	return e.record(ctx, ActionRecordSubmitted, SeverityInfo, OutcomeSuccess,
		ResourceRecord, r.ID.String(), CategoryRecord, nil,
		"item_id", r.ItemID,
		"shop_id", r.ShopID,
		"record_type", string(r.Type),
		"submitter_id", r.Submitter.UserID,
		"pending_tasks", pending,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnReconciliationRequired implements ext.ReconciliationRequired.
func (e *Extension) OnReconciliationRequired(ctx context.Context, r *record.Record, typ task.Type, cause error) error {
	return e.record(ctx, ActionRecordReconciliationRequired, SeverityWarning, OutcomeFailure,
		ResourceRecord, r.ID.String(), CategoryRecord, cause,
		"item_id", r.ItemID,
		"shop_id", r.ShopID,
		"task_type", string(typ),
	)
}

// ── Task lifecycle hooks ────────────────────────────

// OnTaskEnqueued implements ext.TaskEnqueued.
func (e *Extension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	return e.record(ctx, ActionTaskEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_type", string(t.Type),
		"max_attempts", t.MaxAttempts,
	)
}

// OnTaskCompleted implements ext.TaskCompleted.
func (e *Extension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	return e.record(ctx, ActionTaskCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_type", string(t.Type),
		"attempt", t.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTaskRetrying implements ext.TaskRetrying.
func (e *Extension) OnTaskRetrying(ctx context.Context, t *task.Task, visibleAt time.Time, cause error) error {
	return e.record(ctx, ActionTaskRetrying, SeverityWarning, OutcomeFailure,
		ResourceTask, t.ID.String(), CategoryTask, cause,
		"task_type", string(t.Type),
		"attempt", t.Attempt,
		"max_attempts", t.MaxAttempts,
		"visible_at", visibleAt.Format(time.RFC3339),
	)
}

// OnTaskDeadLettered implements ext.TaskDeadLettered.
func (e *Extension) OnTaskDeadLettered(ctx context.Context, t *task.Task, cause error) error {
	return e.record(ctx, ActionTaskDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceTask, t.ID.String(), CategoryTask, cause,
		"task_type", string(t.Type),
		"attempt", t.Attempt,
		"max_attempts", t.MaxAttempts,
	)
}

// OnTaskRequeued implements ext.TaskRequeued.
func (e *Extension) OnTaskRequeued(ctx context.Context, t *task.Task) error {
	return e.record(ctx, ActionTaskRequeued, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_type", string(t.Type),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
