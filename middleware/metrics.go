package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pricetrack/storemesh/task"
)

// meterName is the instrumentation scope name for storemesh metrics.
const meterName = "github.com/pricetrack/storemesh"

// Metrics returns middleware that records per-task metrics using the
// global MeterProvider.
//
// Instruments:
//   - storemesh.task.duration (Float64Histogram): run time in seconds,
//     with attributes: task_type, status ("ok" or "error")
//   - storemesh.task.executions (Int64Counter): total runs,
//     with attributes: task_type, status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"storemesh.task.duration",
		metric.WithDescription("Duration of task handler runs in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"storemesh.task.executions",
		metric.WithDescription("Total number of task handler runs"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("task_type", string(t.Type)),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
