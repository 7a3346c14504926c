// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the time from end of speech to the final transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks the time from request to first streamed token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks the time from the first sentence to the first audio chunk.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end of user speech to first assistant audio.
	TurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks capability execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// VADLoadDuration tracks how long loading the VAD model took.
	VADLoadDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls by modality, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by modality and kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts capability invocations by tool and status.
	ToolCalls metric.Int64Counter

	// Replies counts completed assistant replies.
	Replies metric.Int64Counter

	// BargeIns counts replies interrupted by user speech.
	BargeIns metric.Int64Counter

	// Jobs counts finished jobs by outcome ("ok", "config", "connect",
	// "provider", "rejected").
	Jobs metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks jobs currently running on this worker.
	ActiveJobs metric.Int64UpDownCounter

	// ActiveParticipants tracks participants with a running pipeline.
	ActiveParticipants metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// path and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = histogram("parley.stt.duration", "Time from end of speech to final transcript."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("parley.llm.duration", "Time to first token of a completion."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("parley.tts.duration", "Time to first audio of a synthesis."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("parley.turn.duration", "End of user speech to first assistant audio."); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = histogram("parley.tool_execution.duration", "Latency of capability execution."); err != nil {
		return nil, err
	}
	if met.VADLoadDuration, err = histogram("parley.vad.load.duration", "Time spent loading the VAD model."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Provider calls by modality, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Provider failures by modality and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Capability invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("parley.replies",
		metric.WithDescription("Completed assistant replies."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.barge_ins",
		metric.WithDescription("Assistant replies interrupted by user speech."),
	); err != nil {
		return nil, err
	}
	if met.Jobs, err = m.Int64Counter("parley.jobs",
		metric.WithDescription("Finished jobs by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("parley.active_jobs",
		metric.WithDescription("Jobs currently running on this worker."),
	); err != nil {
		return nil, err
	}
	if met.ActiveParticipants, err = m.Int64UpDownCounter("parley.active_participants",
		metric.WithDescription("Participants with a running voice pipeline."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Worker HTTP latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Since records the seconds elapsed since start on h.
func Since(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, modality, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("modality", modality),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, modality, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("modality", modality),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall increments the tool call counter.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordJob increments the job counter for outcome.
func (m *Metrics) RecordJob(ctx context.Context, outcome string) {
	m.Jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
