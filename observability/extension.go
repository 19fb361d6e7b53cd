package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension              = (*MetricsExtension)(nil)
	_ ext.RecordSubmitted        = (*MetricsExtension)(nil)
	_ ext.ReconciliationRequired = (*MetricsExtension)(nil)
	_ ext.QueryServed            = (*MetricsExtension)(nil)
	_ ext.CacheDegraded          = (*MetricsExtension)(nil)
	_ ext.TaskEnqueued           = (*MetricsExtension)(nil)
	_ ext.TaskCompleted          = (*MetricsExtension)(nil)
	_ ext.TaskRetrying           = (*MetricsExtension)(nil)
	_ ext.TaskDeadLettered       = (*MetricsExtension)(nil)
	_ ext.TaskRequeued           = (*MetricsExtension)(nil)
)

const meterName = "github.com/pricetrack/storemesh/observability"

// MetricsExtension records lifecycle counters. Register it with
// engine.WithExtension.
type MetricsExtension struct {
	RecordsSubmitted metric.Int64Counter
	Reconciliation   metric.Int64Counter
	Queries          metric.Int64Counter
	QueryDuration    metric.Float64Histogram
	CacheDegraded    metric.Int64Counter
	TasksEnqueued    metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksRetried     metric.Int64Counter
	TasksDead        metric.Int64Counter
	TasksRequeued    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("storemesh.query.duration",
		metric.WithDescription("Duration of record queries in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		RecordsSubmitted: counter("storemesh.record.submitted", "Records persisted by Submit"),
		Reconciliation:   counter("storemesh.record.reconciliation_required", "Derived tasks that could not be enqueued"),
		Queries:          counter("storemesh.query.served", "Queries served, by cache outcome"),
		QueryDuration:    duration,
		CacheDegraded:    counter("storemesh.cache.degraded", "Cache operations that failed and fell back"),
		TasksEnqueued:    counter("storemesh.task.enqueued", "Tasks enqueued"),
		TasksCompleted:   counter("storemesh.task.completed", "Tasks acked"),
		TasksRetried:     counter("storemesh.task.retried", "Task attempts re-queued after failure"),
		TasksDead:        counter("storemesh.task.dead_lettered", "Tasks moved to the dead-letter queue"),
		TasksRequeued:    counter("storemesh.task.requeued", "Dead-lettered tasks requeued by an operator"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Primary path hooks ──────────────────────────────

// OnRecordSubmitted implements ext.RecordSubmitted.
func (m *MetricsExtension) OnRecordSubmitted(ctx context.Context, r *record.Record, _ int, _ time.Duration) error {
	m.RecordsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("record_type", string(r.Type))))
	return nil
}

// OnReconciliationRequired implements ext.ReconciliationRequired.
func (m *MetricsExtension) OnReconciliationRequired(ctx context.Context, _ *record.Record, typ task.Type, _ error) error {
	m.Reconciliation.Add(ctx, 1, typeAttr(typ))
	return nil
}

// OnQueryServed implements ext.QueryServed.
func (m *MetricsExtension) OnQueryServed(ctx context.Context, _ record.Filter, cached, stale bool, elapsed time.Duration) error {
	outcome := "miss"
	switch {
	case stale:
		outcome = "stale"
	case cached:
		outcome = "hit"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Queries.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnCacheDegraded implements ext.CacheDegraded.
func (m *MetricsExtension) OnCacheDegraded(ctx context.Context, op string, _ error) error {
	m.CacheDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	return nil
}

// ── Task lifecycle hooks ────────────────────────────

// OnTaskEnqueued implements ext.TaskEnqueued.
func (m *MetricsExtension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	m.TasksEnqueued.Add(ctx, 1, typeAttr(t.Type))
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *task.Task, _ time.Duration) error {
	m.TasksCompleted.Add(ctx, 1, typeAttr(t.Type))
	return nil
}

// OnTaskRetrying implements ext.TaskRetrying.
func (m *MetricsExtension) OnTaskRetrying(ctx context.Context, t *task.Task, _ time.Time, _ error) error {
	m.TasksRetried.Add(ctx, 1, typeAttr(t.Type))
	return nil
}

// OnTaskDeadLettered implements ext.TaskDeadLettered.
func (m *MetricsExtension) OnTaskDeadLettered(ctx context.Context, t *task.Task, _ error) error {
	m.TasksDead.Add(ctx, 1, typeAttr(t.Type))
	return nil
}

// OnTaskRequeued implements ext.TaskRequeued.
func (m *MetricsExtension) OnTaskRequeued(ctx context.Context, t *task.Task) error {
	m.TasksRequeued.Add(ctx, 1, typeAttr(t.Type))
	return nil
}

func typeAttr(typ task.Type) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("task_type", string(typ)))
}
