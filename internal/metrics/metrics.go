// Package metrics provides Prometheus instrumentation for the competition
// controller.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RegistrationsTotal counts registration attempts by outcome.
	RegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tac_registrations_total",
		Help: "Total registration requests, by outcome",
	}, []string{"outcome"})

	// TransactionsTotal counts transaction requests by reconciliation outcome.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tac_transactions_total",
		Help: "Total transaction requests, by reconciliation outcome",
	}, []string{"outcome"})

	// PendingTransactions tracks the size of the reconciliation pool.
	PendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tac_pending_transactions",
		Help: "One-sided transaction requests awaiting their counterpart",
	})

	// GamePhase tracks the lifecycle phase (0=pre, 1=setup, 2=running, 3=post).
	GamePhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tac_game_phase",
		Help: "Current lifecycle phase of the controller",
	})

	// RegisteredAgents tracks the number of registered agents.
	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tac_registered_agents",
		Help: "Number of currently registered agents",
	})

	// MessageLatency tracks per-message handling latency in the controller loop.
	MessageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tac_message_latency_seconds",
		Help:    "Controller message handling latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"type"})

	// ConnectedAgents tracks connected WebSocket clients.
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tac_connected_agents",
		Help: "Number of connected agent WebSocket sessions",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tac_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tac_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is tiny here.
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// keep working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
