// Package metrics exposes VaultGuard's Prometheus collectors: HTTP traffic,
// chat turn outcomes, LLM token usage and estimated cost, and notification
// deliveries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vaultguard"

// Chat turn outcomes.
const (
	OutcomeCracked   = "cracked"
	OutcomeGenerated = "generated"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"handler", "method"})

	chatTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Chat turns by challenge level and outcome.",
	}, []string{"level", "outcome"})

	llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens consumed by agent role, model and token kind.",
	}, []string{"role", "model", "kind"})

	llmCost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "estimated_cost_usd_total",
		Help:      "Estimated LLM spend in US dollars.",
	}, []string{"role", "model"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by channel and result.",
	}, []string{"channel", "result"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpErrors,
		httpLatency,
		chatTurns,
		llmTokens,
		llmCost,
		notifications,
	)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveChatTurn counts one chat turn.
func ObserveChatTurn(level, outcome string) {
	if level == "" {
		level = "unknown"
	}
	chatTurns.WithLabelValues(level, outcome).Inc()
}

// ObserveLLMUsage records token usage and estimated cost for one agent call.
func ObserveLLMUsage(role, model string, promptTokens, completionTokens int, cost float64) {
	llmTokens.WithLabelValues(role, model, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(role, model, "completion").Add(float64(completionTokens))
	if cost > 0 {
		llmCost.WithLabelValues(role, model).Add(cost)
	}
}

// ObserveNotification records a notification delivery attempt.
func ObserveNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifications.WithLabelValues(channel, result).Inc()
}

// Registry returns the registry holding every VaultGuard collector.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
