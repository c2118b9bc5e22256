package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamrelay/internal/config"
	"streamrelay/internal/registry"
)

// Delivery results recorded per consumer send
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)

// StatsSource is anything that can report registry counts
type StatsSource interface {
	GetStats() registry.Stats
}

// Metrics owns a private Prometheus registry for the relay
// ARCHITECTURAL DISCOVERY: Every method is safe on a nil receiver so components
// can run with metrics disabled without branching at each call site
type Metrics struct {
	registry      *prometheus.Registry
	namespace     string
	connsOpen     prometheus.Gauge
	authenticated prometheus.Counter
	authFailures  prometheus.Counter
	messages      *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	alertsDropped prometheus.Counter
	statusEvents  *prometheus.CounterVec
	streamFPS     *prometheus.GaugeVec
	httpReqCnt    *prometheus.CounterVec
	httpDur       *prometheus.HistogramVec
	dispatchDur   *prometheus.HistogramVec
}

// New creates the relay metrics and registers them with a fresh registry
func New(cfg *config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:      r,
		namespace:     ns,
		connsOpen:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "connections_open", Help: "Open websocket connections"}),
		authenticated: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "auth_success_total", Help: "Completed handshakes"}),
		authFailures:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "auth_failures_total", Help: "Rejected handshakes"}),
		messages:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "messages_total", Help: "Inbound messages by type"}, []string{"type"}),
		deliveries:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "deliveries_total", Help: "Fan-out sends by kind and result"}, []string{"kind", "result"}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "alerts_dropped_total", Help: "Alerts not archived because the queue was full"}),
		statusEvents:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "status_events_total", Help: "Stream status broadcasts"}, []string{"status"}),
		streamFPS:     prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "stream_fps", Help: "Last computed frame rate per stream"}, []string{"stream"}),
		httpReqCnt:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total", Help: "HTTP requests by route"}, []string{"method", "route", "status"}),
		httpDur:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Help: "HTTP request latency", Buckets: buckets}, []string{"method", "route", "status"}),
		dispatchDur:   prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "dispatch_duration_seconds", Help: "Per-message dispatch latency", Buckets: buckets}, []string{"type"}),
	}
	r.MustRegister(m.connsOpen, m.authenticated, m.authFailures, m.messages, m.deliveries,
		m.alertsDropped, m.statusEvents, m.streamFPS, m.httpReqCnt, m.httpDur, m.dispatchDur)
	return m
}

// BindRegistry exposes registry counts as gauges evaluated at scrape time
func (m *Metrics) BindRegistry(src StatsSource) {
	if m == nil || src == nil {
		return
	}
	gauge := func(name, help string, fn func(registry.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: help},
			func() float64 { return float64(fn(src.GetStats())) })
	}
	m.registry.MustRegister(
		gauge("producers", "Streams with an active video producer", func(s registry.Stats) int { return s.Producers }),
		gauge("video_consumers", "Video consumer memberships", func(s registry.Stats) int { return s.VideoConsumers }),
		gauge("alert_consumers", "Alert consumer memberships", func(s registry.Stats) int { return s.AlertConsumers }),
		gauge("connections_registered", "Connections bound to a stream", func(s registry.Stats) int { return s.RegisteredConnections }),
	)
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connsOpen.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connsOpen.Dec()
	}
}

func (m *Metrics) AuthSucceeded() {
	if m != nil {
		m.authenticated.Inc()
	}
}

func (m *Metrics) AuthFailed() {
	if m != nil {
		m.authFailures.Inc()
	}
}

// MessageReceived counts one inbound message and its handling time
func (m *Metrics) MessageReceived(msgType string, since time.Time) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
	m.dispatchDur.WithLabelValues(msgType).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Delivery(kind, result string) {
	if m != nil {
		m.deliveries.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) AlertDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

func (m *Metrics) StatusBroadcast(status string) {
	if m != nil {
		m.statusEvents.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetStreamFPS(streamID string, fps int) {
	if m != nil {
		m.streamFPS.WithLabelValues(streamID).Set(float64(fps))
	}
}

// RemoveStream drops per-stream series once the producer leaves
func (m *Metrics) RemoveStream(streamID string) {
	if m != nil {
		m.streamFPS.DeleteLabelValues(streamID)
	}
}

// Middleware records request count and latency for a named route
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		status := strconv.Itoa(rec.status)
		m.httpReqCnt.WithLabelValues(r.Method, route, status).Inc()
		m.httpDur.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the private registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
