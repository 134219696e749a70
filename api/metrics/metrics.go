// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildInfo carries version labels, set once at startup.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waybill_build_info",
		Help: "Build information for the running binary.",
	}, []string{"version", "commit", "date"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_http_requests_total",
		Help: "HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waybill_http_request_duration_seconds",
		Help:    "HTTP request latency by method and path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	anthropicRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_anthropic_requests_total",
		Help: "Anthropic API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	anthropicRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "waybill_anthropic_request_duration_seconds",
		Help:    "Anthropic API request latency by endpoint.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"endpoint"})

	anthropicTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_anthropic_tokens_total",
		Help: "Anthropic token usage by direction.",
	}, []string{"direction"})

	postgresQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_postgres_queries_total",
		Help: "Postgres queries by outcome.",
	}, []string{"outcome"})

	postgresQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waybill_postgres_query_duration_seconds",
		Help:    "Postgres query latency.",
		Buckets: prometheus.DefBuckets,
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waybill_agent_turns_total",
		Help: "Agent turns by outcome (completed, paused, error).",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waybill_agent_turn_duration_seconds",
		Help:    "End-to-end agent turn latency.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})
)

// Middleware records request counts and latency per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordAnthropicRequest records one Anthropic API call.
func RecordAnthropicRequest(endpoint string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	anthropicRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	anthropicRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordAnthropicTokens records token usage from a completed request.
func RecordAnthropicTokens(input, output int64) {
	anthropicTokensTotal.WithLabelValues("input").Add(float64(input))
	anthropicTokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordPostgresQuery records one logistics database query.
func RecordPostgresQuery(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	postgresQueriesTotal.WithLabelValues(outcome).Inc()
	postgresQueryDuration.Observe(duration.Seconds())
}

// RecordTurn records one completed agent turn.
func RecordTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(duration.Seconds())
}
