package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ChunksSent.Add(ctx, 3)
	m.SegmentsPlayed.Add(ctx, 2)
	m.PlaybackErrors.Add(ctx, 1)
	m.DroppedSegments.Add(ctx, 4)

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"parley.chunks.sent", 3},
		{"parley.segments.played", 2},
		{"parley.playback.errors", 1},
		{"parley.playback.dropped", 4},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			md := findMetric(rm, tc.name)
			if md == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, want Sum[int64]", tc.name, md.Data)
			}
			if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != tc.want {
				t.Errorf("metric %q = %+v, want single data point %d", tc.name, sum.DataPoints, tc.want)
			}
		})
	}
}

func TestControlMessageAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordControlMessage(ctx, "status")
	m.RecordControlMessage(ctx, "status")
	m.RecordControlMessage(ctx, "llm_chunk")

	rm := collect(t, reader)
	md := findMetric(rm, "parley.control.messages")
	if md == nil {
		t.Fatal("metric parley.control.messages not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric is %T, want Sum[int64]", md.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("got %d data points, want 2 (one per type)", len(sum.DataPoints))
	}

	byType := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("type"))
		byType[v.AsString()] = dp.Value
	}
	if byType["status"] != 2 || byType["llm_chunk"] != 1 {
		t.Errorf("counts by type = %v, want status=2 llm_chunk=1", byType)
	}
}

func TestSegmentDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SegmentDuration.Record(ctx, 0.8)
	m.SegmentDuration.Record(ctx, 2.5)

	rm := collect(t, reader)
	md := findMetric(rm, "parley.segment.duration")
	if md == nil {
		t.Fatal("metric parley.segment.duration not found")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric is %T, want Histogram[float64]", md.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram = %+v, want one data point with count 2", hist.DataPoints)
	}
}

func TestActiveRecordingsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.ActiveRecordings.Add(ctx, 1)

	rm := collect(t, reader)
	md := findMetric(rm, "parley.active_recordings")
	if md == nil {
		t.Fatal("metric parley.active_recordings not found")
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric is %T, want Sum[int64]", md.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("gauge = %+v, want value 1", sum.DataPoints)
	}
}
