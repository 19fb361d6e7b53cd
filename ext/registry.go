package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/task"
)

// Named entry types pair a hook with the extension name captured at
// registration time.
type recordSubmittedEntry struct {
	name string
	hook RecordSubmitted
}

type reconciliationEntry struct {
	name string
	hook ReconciliationRequired
}

type queryServedEntry struct {
	name string
	hook QueryServed
}

type cacheDegradedEntry struct {
	name string
	hook CacheDegraded
}

type taskEnqueuedEntry struct {
	name string
	hook TaskEnqueued
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskRetryingEntry struct {
	name string
	hook TaskRetrying
}

type taskDeadLetteredEntry struct {
	name string
	hook TaskDeadLettered
}

type taskRequeuedEntry struct {
	name string
	hook TaskRequeued
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are type-cached at registration so emit calls iterate
// only over implementors of the relevant hook.
//
// Register all extensions before the engine starts; emit calls do not
// lock.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	recordSubmitted  []recordSubmittedEntry
	reconciliation   []reconciliationEntry
	queryServed      []queryServedEntry
	cacheDegraded    []cacheDegradedEntry
	taskEnqueued     []taskEnqueuedEntry
	taskCompleted    []taskCompletedEntry
	taskRetrying     []taskRetryingEntry
	taskDeadLettered []taskDeadLetteredEntry
	taskRequeued     []taskRequeuedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RecordSubmitted); ok {
		r.recordSubmitted = append(r.recordSubmitted, recordSubmittedEntry{name, h})
	}
	if h, ok := e.(ReconciliationRequired); ok {
		r.reconciliation = append(r.reconciliation, reconciliationEntry{name, h})
	}
	if h, ok := e.(QueryServed); ok {
		r.queryServed = append(r.queryServed, queryServedEntry{name, h})
	}
	if h, ok := e.(CacheDegraded); ok {
		r.cacheDegraded = append(r.cacheDegraded, cacheDegradedEntry{name, h})
	}
	if h, ok := e.(TaskEnqueued); ok {
		r.taskEnqueued = append(r.taskEnqueued, taskEnqueuedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskRetrying); ok {
		r.taskRetrying = append(r.taskRetrying, taskRetryingEntry{name, h})
	}
	if h, ok := e.(TaskDeadLettered); ok {
		r.taskDeadLettered = append(r.taskDeadLettered, taskDeadLetteredEntry{name, h})
	}
	if h, ok := e.(TaskRequeued); ok {
		r.taskRequeued = append(r.taskRequeued, taskRequeuedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// SetLogger replaces the logger used to report hook errors.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Write and read path emitters
// ──────────────────────────────────────────────────

// EmitRecordSubmitted notifies all extensions that implement RecordSubmitted.
func (r *Registry) EmitRecordSubmitted(ctx context.Context, rec *record.Record, pending int, elapsed time.Duration) {
	for _, e := range r.recordSubmitted {
		if err := e.hook.OnRecordSubmitted(ctx, rec, pending, elapsed); err != nil {
			r.logHookError("OnRecordSubmitted", e.name, err)
		}
	}
}

// EmitReconciliationRequired notifies all extensions that implement
// ReconciliationRequired.
func (r *Registry) EmitReconciliationRequired(ctx context.Context, rec *record.Record, typ task.Type, cause error) {
	for _, e := range r.reconciliation {
		if err := e.hook.OnReconciliationRequired(ctx, rec, typ, cause); err != nil {
			r.logHookError("OnReconciliationRequired", e.name, err)
		}
	}
}

// EmitQueryServed notifies all extensions that implement QueryServed.
func (r *Registry) EmitQueryServed(ctx context.Context, f record.Filter, cached, stale bool, elapsed time.Duration) {
	for _, e := range r.queryServed {
		if err := e.hook.OnQueryServed(ctx, f, cached, stale, elapsed); err != nil {
			r.logHookError("OnQueryServed", e.name, err)
		}
	}
}

// EmitCacheDegraded notifies all extensions that implement CacheDegraded.
func (r *Registry) EmitCacheDegraded(ctx context.Context, op string, cause error) {
	for _, e := range r.cacheDegraded {
		if err := e.hook.OnCacheDegraded(ctx, op, cause); err != nil {
			r.logHookError("OnCacheDegraded", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task lifecycle emitters
// ──────────────────────────────────────────────────

// EmitTaskEnqueued notifies all extensions that implement TaskEnqueued.
func (r *Registry) EmitTaskEnqueued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskEnqueued {
		if err := e.hook.OnTaskEnqueued(ctx, t); err != nil {
			r.logHookError("OnTaskEnqueued", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskRetrying notifies all extensions that implement TaskRetrying.
func (r *Registry) EmitTaskRetrying(ctx context.Context, t *task.Task, visibleAt time.Time, cause error) {
	for _, e := range r.taskRetrying {
		if err := e.hook.OnTaskRetrying(ctx, t, visibleAt, cause); err != nil {
			r.logHookError("OnTaskRetrying", e.name, err)
		}
	}
}

// EmitTaskDeadLettered notifies all extensions that implement
// TaskDeadLettered.
func (r *Registry) EmitTaskDeadLettered(ctx context.Context, t *task.Task, cause error) {
	for _, e := range r.taskDeadLettered {
		if err := e.hook.OnTaskDeadLettered(ctx, t, cause); err != nil {
			r.logHookError("OnTaskDeadLettered", e.name, err)
		}
	}
}

// EmitTaskRequeued notifies all extensions that implement TaskRequeued.
func (r *Registry) EmitTaskRequeued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskRequeued {
		if err := e.hook.OnTaskRequeued(ctx, t); err != nil {
			r.logHookError("OnTaskRequeued", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
