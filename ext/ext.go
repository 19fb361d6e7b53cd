package ext

import (
	"context"
	"time"

	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Write and read path hooks
// ──────────────────────────────────────────────────

// RecordSubmitted is called after a record is persisted and its derived
// tasks were handed to the queue. pending counts tasks that could not be
// enqueued.
type RecordSubmitted interface {
	OnRecordSubmitted(ctx context.Context, r *record.Record, pending int, elapsed time.Duration) error
}

// ReconciliationRequired is called when a derived task could not be
// enqueued after its retry budget. The record exists but the task does not.
type ReconciliationRequired interface {
	OnReconciliationRequired(ctx context.Context, r *record.Record, typ task.Type, err error) error
}

// QueryServed is called after every successful query.
type QueryServed interface {
	OnQueryServed(ctx context.Context, f record.Filter, cached, stale bool, elapsed time.Duration) error
}

// CacheDegraded is called when a cache operation failed and the read path
// fell back to the record store.
type CacheDegraded interface {
	OnCacheDegraded(ctx context.Context, op string, err error) error
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskEnqueued is called after a task is accepted by the queue.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a handler succeeded and the task was acked.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskRetrying is called when a failed task was re-queued.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, visibleAt time.Time, err error) error
}

// TaskDeadLettered is called when a task was parked for operator review.
type TaskDeadLettered interface {
	OnTaskDeadLettered(ctx context.Context, t *task.Task, err error) error
}

// TaskRequeued is called when an operator returned a dead-lettered task to
// the queue.
type TaskRequeued interface {
	OnTaskRequeued(ctx context.Context, t *task.Task) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
