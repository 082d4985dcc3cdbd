package observability_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/getshortzy/clipqueue/job"
	"github.com/getshortzy/clipqueue/observability"
	"github.com/getshortzy/clipqueue/store/memory"
	"github.com/getshortzy/clipqueue/store/storetest"
)

func TestRegisterQueueGauges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	for range 3 {
		if err := s.CreateJob(ctx, storetest.NewJob(job.TypeTranscription, "u", 0)); err != nil {
			t.Fatal(err)
		}
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	reg, err := observability.RegisterQueueGauges(mp.Meter("test"), s)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reg.Unregister() }()

	m, ok := collect(t, reader)["clipqueue.queue.size"]
	if !ok {
		t.Fatal("clipqueue.queue.size not recorded")
	}
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("expected Gauge[int64], got %T", m.Data)
	}
	got := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		v, _ := dp.Attributes.Value("status")
		got[v.AsString()] = dp.Value
	}
	if got["pending"] != 3 || got["running"] != 0 {
		t.Errorf("gauges = %v", got)
	}
}
