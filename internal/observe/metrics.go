// Package observe provides observability primitives for Parley: OpenTelemetry
// metrics over a Prometheus exporter bridge, plus structured-logging setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parley-voice/parley"

// Metrics holds all OpenTelemetry metric instruments for the client. All
// fields are safe for concurrent use — the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// --- Counters ---

	// ChunksSent counts outbound audio chunks handed to the transport.
	ChunksSent metric.Int64Counter

	// SegmentsPlayed counts inbound audio segments played to completion.
	SegmentsPlayed metric.Int64Counter

	// ControlMessages counts inbound control messages. Use with attribute:
	//   attribute.String("type", ...)
	ControlMessages metric.Int64Counter

	// --- Error counters ---

	// PlaybackErrors counts segments that failed to decode or play.
	PlaybackErrors metric.Int64Counter

	// DroppedSegments counts backlog segments discarded after a playback
	// failure.
	DroppedSegments metric.Int64Counter

	// --- Histograms ---

	// SegmentDuration tracks wall-clock playback time per segment.
	SegmentDuration metric.Float64Histogram

	// ChunkBytes tracks the size of outbound audio chunks.
	ChunkBytes metric.Int64Histogram

	// --- Gauges ---

	// ActiveRecordings tracks whether a microphone recording is in flight
	// (0 or 1 for a single client).
	ActiveRecordings metric.Int64UpDownCounter
}

// segmentBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesized-speech segment lengths.
var segmentBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChunksSent, err = m.Int64Counter("parley.chunks.sent",
		metric.WithDescription("Total outbound audio chunks handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("parley.segments.played",
		metric.WithDescription("Total inbound audio segments played to completion."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("parley.control.messages",
		metric.WithDescription("Total inbound control messages by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PlaybackErrors, err = m.Int64Counter("parley.playback.errors",
		metric.WithDescription("Total segments that failed to decode or play."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSegments, err = m.Int64Counter("parley.playback.dropped",
		metric.WithDescription("Total backlog segments discarded after a playback failure."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("parley.segment.duration",
		metric.WithDescription("Wall-clock playback time per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkBytes, err = m.Int64Histogram("parley.chunk.bytes",
		metric.WithDescription("Size of outbound audio chunks."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("parley.active_recordings",
		metric.WithDescription("Number of microphone recordings in flight."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordControlMessage records one inbound control message of the given type.
func (m *Metrics) RecordControlMessage(ctx context.Context, msgType string) {
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
