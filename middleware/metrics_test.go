package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/getshortzy/clipqueue/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
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

func TestMetrics_RecordsDurationAndCount(t *testing.T) {
	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return nil })
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("boom") })

	rm := collectMetrics(t, reader)

	dur := findMetric(rm, "clipqueue.job.execution.duration")
	if dur == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64]")
	}
	var histCount uint64
	for _, dp := range hist.DataPoints {
		histCount += dp.Count
	}
	if histCount != 2 {
		t.Errorf("histogram count = %d, want 2", histCount)
	}

	execs := findMetric(rm, "clipqueue.job.executions")
	if execs == nil {
		t.Fatal("executions metric not found")
	}
	sum, ok := execs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64]")
	}

	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		jobType, _ := dp.Attributes.Value("job_type")
		if jobType.AsString() != "clip_generation" {
			t.Errorf("job_type = %q", jobType.AsString())
		}
		byStatus[status.AsString()] += dp.Value
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v", byStatus)
	}
}

func TestMetrics_DefaultNoopSafe(t *testing.T) {
	called := false
	err := mw.Metrics()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
