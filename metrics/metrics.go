// Package metrics exposes Prometheus metrics for list client requests and for
// the development list server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientCollector records list client requests. It implements
// client.RequestObserver and prometheus.Collector.
type ClientCollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewClientCollector creates a ClientCollector whose metric names start with
// namespace. Register it with a prometheus.Registerer to export it.
func NewClientCollector(namespace string) *ClientCollector {
	return &ClientCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Total number of list API requests by operation, method, and status",
			},
			[]string{"operation", "method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "List API request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "method"},
		),
	}
}

// ObserveRequest records one request. A status of 0 is recorded as "error".
func (cc *ClientCollector) ObserveRequest(op, method string, status int, elapsed time.Duration) {
	cc.requests.WithLabelValues(op, method, statusLabel(status)).Inc()
	cc.duration.WithLabelValues(op, method).Observe(elapsed.Seconds())
}

func (cc *ClientCollector) Describe(ch chan<- *prometheus.Desc) {
	cc.requests.Describe(ch)
	cc.duration.Describe(ch)
}

func (cc *ClientCollector) Collect(ch chan<- prometheus.Metric) {
	cc.requests.Collect(ch)
	cc.duration.Collect(ch)
}

// ServerCollector records requests served by the list server.
type ServerCollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewServerCollector creates a ServerCollector whose metric names start with
// namespace.
func NewServerCollector(namespace string) *ServerCollector {
	return &ServerCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (sc *ServerCollector) Describe(ch chan<- *prometheus.Desc) {
	sc.requests.Describe(ch)
	sc.duration.Describe(ch)
}

func (sc *ServerCollector) Collect(ch chan<- prometheus.Metric) {
	sc.requests.Collect(ch)
	sc.duration.Collect(ch)
}

// Middleware records every request that passes through it. The route label is
// the chi route pattern, so that item IDs and list names do not each get their
// own series.
func (sc *ServerCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		sc.requests.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
		sc.duration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler returns the /metrics handler for everything registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
