// Package metrics provides Prometheus instrumentation for the bet engine.
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
	// StakesTotal counts stakes placed, partitioned by market visibility.
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bethub_stakes_total",
		Help: "Total number of stakes placed",
	}, []string{"visibility"})

	// StakeVolume accumulates staked amounts. Metric-grade only; the
	// ledger is the authoritative record.
	StakeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bethub_stake_volume_total",
		Help: "Cumulative staked amount",
	})

	// SettlementsTotal counts market settlements by path: result, void,
	// or expired (voided by the sweeper).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bethub_settlements_total",
		Help: "Total number of market settlements",
	}, []string{"path"})

	// SettlementLatency tracks settlement execution time by path.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bethub_settlement_latency_seconds",
		Help:    "Settlement execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	// LoansTotal counts loan lifecycle events by action.
	LoansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bethub_loans_total",
		Help: "Total loan events (issued, repaid, defaulted)",
	}, []string{"action"})

	// OpenMarkets tracks the number of currently open markets.
	OpenMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bethub_open_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bethub_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bethub_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bethub_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
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
