package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/pricetrack/storemesh/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestTask(t), func(context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "storemesh.task.duration")
	if metric == nil {
		t.Fatal("storemesh.task.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("expected one recorded duration, got %+v", hist.DataPoints)
	}
}

func TestMetrics_StatusAttribute(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	tk := newTestTask(t)

	_ = m(context.Background(), tk, func(context.Context) error { return nil })
	_ = m(context.Background(), tk, func(context.Context) error { return errors.New("fail") })
	_ = m(context.Background(), tk, func(context.Context) error { return errors.New("fail") })

	metric := findMetric(collectMetrics(t, reader), "storemesh.task.executions")
	if metric == nil {
		t.Fatal("storemesh.task.executions metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		typ, _ := dp.Attributes.Value(attribute.Key("task_type"))
		if typ.AsString() != "UPDATE_STATS" {
			t.Errorf("task_type = %q", typ.AsString())
		}
		counts[status.AsString()] += dp.Value
	}
	if counts["ok"] != 1 || counts["error"] != 2 {
		t.Errorf("counts = %v, want ok=1 error=2", counts)
	}
}
