// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by game and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pe_trades_total",
		Help: "Total number of trades executed",
	}, []string{"game", "side"})

	// TradeRejections counts trades rejected by ledger validation.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pe_trade_rejections_total",
		Help: "Trades rejected by validation, by reason",
	}, []string{"game", "reason"})

	// ActiveSessions tracks game sessions held in memory.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pe_active_sessions",
		Help: "Number of game sessions held in memory",
	}, []string{"game"})

	// PersistenceSaves counts snapshot saves by game and result
	// ("ok", "error", "timeout", "throttled").
	PersistenceSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pe_persistence_saves_total",
		Help: "Session snapshot saves by result",
	}, []string{"game", "result"})

	// PersistenceLatency tracks snapshot save latency.
	PersistenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pe_persistence_latency_seconds",
		Help:    "Session snapshot save latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"game"})

	// PriceTicks counts live market ticks.
	PriceTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pe_price_ticks_total",
		Help: "Number of live market price ticks",
	})

	// MissingPrices counts valuations that found a holding without a price.
	MissingPrices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pe_missing_prices_total",
		Help: "Holdings valued without an available price",
	}, []string{"game"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pe_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pe_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pe_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSave records the outcome of one snapshot save.
func ObserveSave(game, result string, took time.Duration) {
	PersistenceSaves.WithLabelValues(game, result).Inc()
	if result != "throttled" {
		PersistenceLatency.WithLabelValues(game).Observe(took.Seconds())
	}
}

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
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
