// Package observe provides the observability primitives shared by FlowTalk:
// OpenTelemetry metrics and tracing, trace-aware structured logging, and the
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [DefaultMetrics] returns a process-wide
// instance bound to the global meter provider; tests should call
// [NewMetrics] with their own provider so recordings do not leak between
// tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every FlowTalk instrument.
const meterName = "github.com/MrWong99/flowtalk"

// Provider kinds used as the "kind" attribute.
const (
	KindLLM = "llm"
	KindTTS = "tts"
	KindSTT = "stt"
)

// Status values used as the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every metric instrument. The OTel instruments synchronise
// themselves, so a *Metrics is safe for concurrent use.
type Metrics struct {
	// LLMDuration is the latency of one conversation round trip.
	LLMDuration metric.Float64Histogram

	// TTSDuration is the latency of one speech synthesis call.
	TTSDuration metric.Float64Histogram

	// STTDuration is the time from capture start to a final transcript.
	STTDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// Turns counts completed and failed turns. Attributes: "kind"
	// (opening|message) and "status".
	Turns metric.Int64Counter

	// SchemaFailures counts replies rejected by structured-output validation.
	SchemaFailures metric.Int64Counter

	// Rewards counts progression rewards by persona and topic.
	Rewards metric.Int64Counter

	// ActiveSessions tracks live learner sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Model calls routinely
// take several seconds, so the upper end is wider than for a voice pipeline.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.LLMDuration, "flowtalk.llm.duration", "Latency of one structured conversation reply."},
		{&met.TTSDuration, "flowtalk.tts.duration", "Latency of speech synthesis for one reply."},
		{&met.STTDuration, "flowtalk.stt.duration", "Time from capture start to a final transcript."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "flowtalk.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "flowtalk.provider.errors", "Provider errors by provider and kind."},
		{&met.Turns, "flowtalk.turns", "Conversation turns by kind and status."},
		{&met.SchemaFailures, "flowtalk.schema_failures", "Replies that failed structured-output validation."},
		{&met.Rewards, "flowtalk.rewards", "Progression rewards applied, by persona and topic."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("flowtalk.active_sessions",
		metric.WithDescription("Number of live learner sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("flowtalk.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMu      sync.Mutex
	defaultMetrics *Metrics
)

// DefaultMetrics returns the process-wide [Metrics]. Until [InitProvider]
// runs it is bound to [otel.GetMeterProvider]. It panics if instrument
// creation fails.
func DefaultMetrics() *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMetrics == nil {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
		defaultMetrics = m
	}
	return defaultMetrics
}

func setDefaultMetrics(m *Metrics) {
	defaultMu.Lock()
	defaultMetrics = m
	defaultMu.Unlock()
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments ProviderRequests.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError increments ProviderErrors.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordTurn increments Turns.
func (m *Metrics) RecordTurn(ctx context.Context, kind, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordSchemaFailure increments SchemaFailures.
func (m *Metrics) RecordSchemaFailure(ctx context.Context, provider string) {
	m.SchemaFailures.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider)))
}

// RecordReward increments Rewards.
func (m *Metrics) RecordReward(ctx context.Context, personaID, topicID string) {
	m.Rewards.Add(ctx, 1, metric.WithAttributes(
		Attr("persona", personaID),
		Attr("topic", topicID),
	))
}
