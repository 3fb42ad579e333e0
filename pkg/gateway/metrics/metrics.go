package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/vai-callgate/pkg/gateway/events"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Turn metrics
	TurnsTotal             *prometheus.CounterVec
	TurnDuration           *prometheus.HistogramVec
	IntentsTotal           *prometheus.CounterVec
	ClassificationFailures *prometheus.CounterVec
	ToolCallsTotal         *prometheus.CounterVec

	// Call metrics
	CallsActive      prometheus.Gauge
	QueueRejections  prometheus.Counter
	FramesSentTotal  prometheus.Counter
	RateLimitHits    *prometheus.CounterVec
	ContextsEvicted  prometheus.Counter
	IdempotencyKeys  prometheus.Counter
	SynthesisSeconds prometheus.Histogram

	// Event metrics
	EventsTotal   *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callgate"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"outcome"},
	)

	intentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents by type and whether confirmation was required",
		},
		[]string{"type", "requires_confirmation"},
	)

	classificationFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classification_failures_total",
			Help:      "Intent classifications that fell back to UNKNOWN because of an error",
		},
		[]string{"reason"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "External tool invocations by intent and status",
		},
		[]string{"intent", "status"},
	)

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls with a running turn worker",
		},
	)

	queueRejections := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Inbound packets rejected because the call queue was full",
		},
	)

	framesSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound 20ms mu-law frames written to media streams",
		},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	contextsEvicted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_contexts_evicted_total",
			Help:      "Call contexts removed by the TTL sweep",
		},
	)

	idempotencyKeys := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_keys_expired_total",
			Help:      "Idempotency keys removed by the TTL sweep",
		},
	)

	synthesisSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Speech synthesis latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events delivered by type",
		},
		[]string{"type"},
	)

	eventsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events dropped because the emitter queue was full",
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		turnsTotal,
		turnDuration,
		intentsTotal,
		classificationFailures,
		toolCallsTotal,
		callsActive,
		queueRejections,
		framesSent,
		rateLimitHits,
		contextsEvicted,
		idempotencyKeys,
		synthesisSeconds,
		eventsTotal,
		eventsDropped,
	)

	return &Metrics{
		registry:               registry,
		RequestsTotal:          requestsTotal,
		RequestDuration:        requestDuration,
		TurnsTotal:             turnsTotal,
		TurnDuration:           turnDuration,
		IntentsTotal:           intentsTotal,
		ClassificationFailures: classificationFailures,
		ToolCallsTotal:         toolCallsTotal,
		CallsActive:            callsActive,
		QueueRejections:        queueRejections,
		FramesSentTotal:        framesSent,
		RateLimitHits:          rateLimitHits,
		ContextsEvicted:        contextsEvicted,
		IdempotencyKeys:        idempotencyKeys,
		SynthesisSeconds:       synthesisSeconds,
		EventsTotal:            eventsTotal,
		EventsDropped:          eventsDropped,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordIntent(intentType string, requiresConfirmation bool) {
	m.IntentsTotal.WithLabelValues(intentType, strconv.FormatBool(requiresConfirmation)).Inc()
}

func (m *Metrics) RecordClassificationFailure(reason string) {
	m.ClassificationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordToolCall(intentType, status string) {
	m.ToolCallsTotal.WithLabelValues(intentType, status).Inc()
}

func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

func (m *Metrics) RecordFrames(n int) {
	if n > 0 {
		m.FramesSentTotal.Add(float64(n))
	}
}

// EventSink counts every delivered event by type.
func (m *Metrics) EventSink() events.Sink {
	return events.SinkFunc(func(_ context.Context, ev events.Event) {
		m.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	})
}

// RecordEventDropped matches events.WithDropHook.
func (m *Metrics) RecordEventDropped(events.Event) {
	m.EventsDropped.Inc()
}
