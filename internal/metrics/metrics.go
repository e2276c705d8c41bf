// Package metrics provides Prometheus instrumentation for the storefront.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CartMutations counts successful cart mutations, partitioned by operation.
	CartMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shophub_cart_mutations_total",
		Help: "Total number of successful cart mutations",
	}, []string{"op"})

	// CartLatency tracks cart operation latency including storage I/O.
	CartLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shophub_cart_op_latency_seconds",
		Help:    "Cart operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// CorruptCartPayloads counts persisted carts that failed to parse and
	// were replaced by the empty cart.
	CorruptCartPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shophub_cart_corrupt_payloads_total",
		Help: "Persisted cart payloads that could not be parsed",
	})

	// StorageErrors counts failed storage reads and writes.
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shophub_storage_errors_total",
		Help: "Storage I/O failures by direction",
	}, []string{"direction"})

	// OrdersPlaced counts successful checkouts.
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shophub_orders_placed_total",
		Help: "Total number of orders placed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shophub_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// DroppedNotifications counts cart_updated events dropped on a full buffer.
	DroppedNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shophub_dropped_notifications_total",
		Help: "Cart change notifications dropped because the hub was busy",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shophub_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shophub_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shophub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveCartOp records the latency of a cart operation started at start.
func ObserveCartOp(op string, start time.Time) {
	CartLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
