// Package metrics provides Prometheus instrumentation for the trust engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedbackTotal counts feedback events applied, partitioned by outcome.
	FeedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrust_feedback_total",
		Help: "Total number of feedback events applied",
	}, []string{"outcome"})

	// FeedbackLatency tracks the resolve→score→commit path duration.
	FeedbackLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newstrust_feedback_latency_seconds",
		Help:    "Feedback apply latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CommitConflicts counts optimistic rating commits that lost a race and
	// were retried.
	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newstrust_rating_commit_conflicts_total",
		Help: "Optimistic rating commits retried due to a concurrent writer",
	})

	// PredictionsCreated counts predictions registered.
	PredictionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newstrust_predictions_created_total",
		Help: "Total predictions created",
	})

	// ArticlesIngested counts articles stored per source.
	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrust_articles_ingested_total",
		Help: "Articles ingested from RSS feeds",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newstrust_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newstrust_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newstrust_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is small here.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
