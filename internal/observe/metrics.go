// Package observe provides the decoder's observability primitives:
// OpenTelemetry metrics, tracing, and a Prometheus bridge for scraping.
//
// Tests should build their own [Metrics] with [NewMetrics] and a private
// [metric.MeterProvider]; [DefaultMetrics] uses the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all streamdecode metrics.
const meterName = "github.com/ieee0824/streamdecode"

// Metrics holds the metric instruments shared by all sessions. The
// instruments are safe for concurrent use.
type Metrics struct {
	// FramesDecoded counts frames consumed by the search.
	FramesDecoded metric.Int64Counter

	// AdvanceDuration tracks the latency of one AdvanceDecoding call.
	AdvanceDuration metric.Float64Histogram

	// Endpoints counts endpoint detections. Use with attribute:
	//   attribute.String("rule", ...)
	Endpoints metric.Int64Counter

	// LatticeFrames counts frames added to materialised lattices.
	LatticeFrames metric.Int64Counter

	// ActiveSessions tracks sessions between New and FinalizeDecoding.
	ActiveSessions metric.Int64UpDownCounter

	// Finalized counts finalized sessions.
	Finalized metric.Int64Counter
}

// advanceBuckets are histogram boundaries in seconds. A single advance
// normally covers one audio chunk.
var advanceBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesDecoded, err = m.Int64Counter("streamdecode.frames.decoded",
		metric.WithDescription("Total frames decoded."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.AdvanceDuration, err = m.Float64Histogram("streamdecode.advance.duration",
		metric.WithDescription("Latency of one decoding advance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(advanceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Endpoints, err = m.Int64Counter("streamdecode.endpoints",
		metric.WithDescription("Endpoint detections by rule."),
	); err != nil {
		return nil, err
	}
	if met.LatticeFrames, err = m.Int64Counter("streamdecode.lattice.frames",
		metric.WithDescription("Frames fixed into lattices."),
		metric.WithUnit("{frame}"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamdecode.active_sessions",
		metric.WithDescription("Number of live decoding sessions."),
	); err != nil {
		return nil, err
	}
	if met.Finalized, err = m.Int64Counter("streamdecode.finalized",
		metric.WithDescription("Total finalized sessions."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first
// call from [otel.GetMeterProvider]. It panics if instrument creation
// fails.
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

// RecordAdvance records one advance that decoded frames frames in d.
func (m *Metrics) RecordAdvance(ctx context.Context, frames int, d time.Duration) {
	if frames > 0 {
		m.FramesDecoded.Add(ctx, int64(frames))
	}
	m.AdvanceDuration.Record(ctx, d.Seconds())
}

// RecordEndpoint records an endpoint fired by rule.
func (m *Metrics) RecordEndpoint(ctx context.Context, rule string) {
	m.Endpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordLatticeFrames records frames newly fixed into a lattice.
func (m *Metrics) RecordLatticeFrames(ctx context.Context, frames int) {
	if frames > 0 {
		m.LatticeFrames.Add(ctx, int64(frames))
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active session gauge for a session that
// ends without being finalized.
func (m *Metrics) SessionClosed(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}

// SessionFinalized decrements the active session gauge and counts the
// finalization.
func (m *Metrics) SessionFinalized(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
	m.Finalized.Add(ctx, 1)
}
