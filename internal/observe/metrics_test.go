package internal_observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
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

func TestNewMetricsCreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordCall(context.Background(), "resolved", "mobile")
	m.RecordCall(context.Background(), "transferred", "internet")

	rm := collect(t, reader)
	metric := findMetric(rm, "voicebot.calls.total")
	if metric == nil {
		t.Fatal("voicebot.calls.total not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", metric.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(sum.DataPoints))
	}
}

func TestRecordProviderCountsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordProvider(ctx, "deepgram", "stt", 120*time.Millisecond, nil)
	m.RecordProvider(ctx, "groq", "llm", 2*time.Second, errors.New("timeout"))

	rm := collect(t, reader)
	if findMetric(rm, "voicebot.provider.requests") == nil {
		t.Fatal("voicebot.provider.requests not found")
	}
	errMetric := findMetric(rm, "voicebot.provider.errors")
	if errMetric == nil {
		t.Fatal("voicebot.provider.errors not found")
	}
	sum := errMetric.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("expected exactly one error datapoint with value 1, got %+v", sum.DataPoints)
	}
}

func TestActiveCallsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)

	rm := collect(t, reader)
	metric := findMetric(rm, "voicebot.active_calls")
	if metric == nil {
		t.Fatal("voicebot.active_calls not found")
	}
	sum := metric.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("expected gauge value 1, got %+v", sum.DataPoints)
	}
}

func TestInitProviderServesHandler(t *testing.T) {
	metrics, handler, err := InitProvider()
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if metrics == nil || handler == nil {
		t.Fatal("nil metrics or handler")
	}
}
