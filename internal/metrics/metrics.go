// Package metrics provides Prometheus instrumentation for the buyback
// auction service.
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

	"github.com/atmx/buyback-auction/internal/model"
)

var (
	// TendersSubmitted counts tender submissions by outcome
	// (accepted, rejected).
	TendersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buyback_tender_submissions_total",
		Help: "Total tender submissions",
	}, []string{"outcome"})

	// ClearingRuns counts clearing attempts by policy and outcome.
	ClearingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buyback_clearing_runs_total",
		Help: "Total clearing runs",
	}, []string{"policy", "outcome"})

	// CommandsDropped counts inbound commands dropped without a reply.
	CommandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buyback_commands_dropped_total",
		Help: "Inbound commands dropped silently",
	}, []string{"reason"})

	// AuctionPhase is 1 for the current phase and 0 for the others.
	AuctionPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "buyback_auction_phase",
		Help: "Current auction phase (1 = active)",
	}, []string{"phase"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "buyback_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "buyback_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "buyback_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

var phases = []model.Phase{model.PhaseWaiting, model.PhaseOpen, model.PhaseClosed, model.PhaseResults}

// SetPhase marks p as the active phase.
func SetPhase(p model.Phase) {
	for _, ph := range phases {
		v := 0.0
		if ph == p {
			v = 1
		}
		AuctionPhase.WithLabelValues(string(ph)).Set(v)
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

// Hijack passes through to the underlying writer so websocket upgrades
// work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
