package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	LLMRequests    *prometheus.CounterVec
	LLMLatency     *prometheus.HistogramVec
	AgentSteps     *prometheus.HistogramVec
	ToolCalls      *prometheus.CounterVec
	GraphRequests  *prometheus.CounterVec
	GraphLatency   *prometheus.HistogramVec
	StripeWebhooks *prometheus.CounterVec
	CreditsGranted prometheus.Counter
	SearchRequests *prometheus.CounterVec
	Errors         *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = newMetrics(namespace)
		metricsInstance.register(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewUnregistered builds a fresh set of collectors that are not attached to any registry.
// Tests use it to observe counters without touching global state.
func NewUnregistered(namespace string) *Metrics {
	return newMetrics(namespace)
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total LLM completion streams by outcome.",
		}, []string{"status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency distribution for LLM completion streams.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"status"}),
		AgentSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_steps",
			Help:      "Model steps taken per chat request.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30},
		}, []string{"mode"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tool_calls_total",
			Help:      "Total agent tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		GraphRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facebook_graph_requests_total",
			Help:      "Total Facebook Graph API requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		GraphLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "facebook_graph_request_duration_seconds",
			Help:      "Latency distribution for Facebook Graph API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		StripeWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stripe_webhooks_total",
			Help:      "Total Stripe webhook deliveries by event type and outcome.",
		}, []string{"type", "status"}),
		CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Total credits added to user balances.",
		}),
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "web_search_requests_total",
			Help:      "Total outbound web searches by outcome.",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) register(r prometheus.Registerer) {
	r.MustRegister(
		m.HTTPRequests,
		m.HTTPLatency,
		m.LLMRequests,
		m.LLMLatency,
		m.AgentSteps,
		m.ToolCalls,
		m.GraphRequests,
		m.GraphLatency,
		m.StripeWebhooks,
		m.CreditsGranted,
		m.SearchRequests,
		m.Errors,
	)
}
