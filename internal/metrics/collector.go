// Package metrics exposes the service's Prometheus collectors: HTTP traffic,
// upstream LLM calls, and council pipeline outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates all service metrics.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec
	llmCost            *prometheus.CounterVec

	turnsTotal       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	quotaDenials     prometheus.Counter
	votesTotal       *prometheus.CounterVec
	streamClientGone prometheus.Counter
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		llmRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of upstream LLM calls",
		}, []string{"model", "status"}),

		llmRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Upstream LLM call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		llmTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total tokens consumed upstream",
		}, []string{"model", "type"}), // type: prompt, completion

		llmCost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated upstream spend in USD",
		}, []string{"model"}),

		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Council turns by terminal status",
		}, []string{"status"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),

		quotaDenials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_denials_total",
			Help:      "Turns denied by the monthly token quota",
		}),

		votesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_votes_total",
			Help:      "Stage-2 votes by parse outcome",
		}, []string{"outcome"}), // outcome: parsed, fallback, dropped

		streamClientGone: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_disconnects_total",
			Help:      "Event streams dropped by the client before completion",
		}),
	}
}

// Handler serves the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLLMCall records one settled upstream call.
func (c *Collector) RecordLLMCall(model, status string, promptTokens, completionTokens int, cost float64, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	c.llmCost.WithLabelValues(model).Add(cost)
}

// RecordVote records a stage-2 vote's parse outcome.
func (c *Collector) RecordVote(outcome string) {
	c.votesTotal.WithLabelValues(outcome).Inc()
}

// RecordStreamDisconnect records a client dropping an event stream early.
func (c *Collector) RecordStreamDisconnect() {
	c.streamClientGone.Inc()
}

// ObserveStageDuration implements council.Metrics.
func (c *Collector) ObserveStageDuration(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TurnCompleted implements council.Metrics.
func (c *Collector) TurnCompleted(status string) {
	c.turnsTotal.WithLabelValues(status).Inc()
}

// QuotaDenied implements council.Metrics.
func (c *Collector) QuotaDenied() {
	c.quotaDenials.Inc()
}
