// Package metrics — метрики Prometheus для бэкенда чатов.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	WSConnections  prometheus.Gauge
	WSDropped      prometheus.Counter
	Events         *prometheus.CounterVec
	PostsCreated   prometheus.Counter
	ReadsMarked    prometheus.Counter
	PushDeliveries *prometheus.CounterVec
}

// New регистрирует все коллекторы в новом реестре (в тестах можно создавать
// сколько угодно экземпляров).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobchat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobchat",
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "ws_slow_clients_dropped_total",
			Help:      "WebSocket clients closed because their send buffer was full.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "chat_events_published_total",
			Help:      "Chat events published to the broker by type.",
		}, []string{"type"}),
		PostsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "chat_posts_created_total",
			Help:      "Chat posts created.",
		}),
		ReadsMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "chat_reads_marked_total",
			Help:      "Mark-as-read requests that advanced a marker.",
		}),
		PushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat",
			Name:      "webpush_deliveries_total",
			Help:      "Web push deliveries by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration,
		m.WSConnections, m.WSDropped,
		m.Events, m.PostsCreated, m.ReadsMarked, m.PushDeliveries,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler отдаёт реестр в текстовом формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack нужен, чтобы upgrade до WebSocket проходил через middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware считает запросы и время ответа по шаблону маршрута chi, чтобы
// параметры пути не раздували число меток.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
