// Package observe provides application-wide observability for the friction
// server: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/justraw/friction"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks whole-turn latency from frame receipt to response.
	TurnDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks generator latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// ImageDuration tracks scene render latency.
	ImageDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", "ok"|"fail_line"|"raw_fallback")
	Turns metric.Int64Counter

	// DroppedTurns counts turn frames dropped because the session was busy.
	DroppedTurns metric.Int64Counter

	// StageDegradations counts optional stages skipped or failed. Use with
	// attribute: attribute.String("stage", ...)
	StageDegradations metric.Int64Counter

	// RespectDeltas counts score changes by direction. Use with attribute:
	//   attribute.String("direction", "up"|"down"|"flat")
	RespectDeltas metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational turn latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TurnDuration, "friction.turn.duration", "Whole-turn latency from frame receipt to response."},
		{&met.STTDuration, "friction.stt.duration", "Latency of speech transcription."},
		{&met.LLMDuration, "friction.llm.duration", "Latency of character reply generation."},
		{&met.TTSDuration, "friction.tts.duration", "Latency of speech synthesis."},
		{&met.ImageDuration, "friction.image.duration", "Latency of scene rendering."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Turns, err = m.Int64Counter("friction.turns",
		metric.WithDescription("Total completed turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DroppedTurns, err = m.Int64Counter("friction.turns.dropped",
		metric.WithDescription("Turn frames dropped because the session was busy."),
	); err != nil {
		return nil, err
	}
	if met.StageDegradations, err = m.Int64Counter("friction.stage.degradations",
		metric.WithDescription("Optional pipeline stages skipped or failed by stage."),
	); err != nil {
		return nil, err
	}
	if met.RespectDeltas, err = m.Int64Counter("friction.respect.deltas",
		metric.WithDescription("Respect score changes by direction."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("friction.active_sessions",
		metric.WithDescription("Number of live role-play sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("friction.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordTurn records a completed turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordDegradation records a skipped or failed optional stage.
func (m *Metrics) RecordDegradation(ctx context.Context, stage string) {
	m.StageDegradations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRespectDelta records a score change by direction.
func (m *Metrics) RecordRespectDelta(ctx context.Context, delta int) {
	direction := "flat"
	switch {
	case delta > 0:
		direction = "up"
	case delta < 0:
		direction = "down"
	}
	m.RespectDeltas.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)))
}
