// Package metrics holds the Prometheus instruments of both services. Every
// method is safe on a nil receiver so components can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chairbook"

// Registry builds a registry with the Go and process collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer, service string) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}

type ReminderMetrics struct {
	enqueued *prometheus.CounterVec
	claims   *prometheus.CounterVec
	sends    *prometheus.CounterVec
	jobRuns  *prometheus.CounterVec
	partial  prometheus.Counter
	sendTime prometheus.Histogram
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "enqueued_total",
			Help:      "Notifications inserted as pending, by kind and producer.",
		}, []string{"kind", "source"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "claims_total",
			Help:      "Claim attempts on due notifications, by result (won|lost).",
		}, []string{"result"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "sends_total",
			Help:      "Transport calls, by kind and outcome (sent|failed|timeout).",
		}, []string{"kind", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "job_runs_total",
			Help:      "Dispatcher job invocations, by job and result.",
		}, []string{"job", "result"}),
		partial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "partial_writes_total",
			Help:      "Appointments saved without their notifications.",
		}),
		sendTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "send_duration_seconds",
			Help:      "Latency of the outbound transport call.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	reg.MustRegister(m.enqueued, m.claims, m.sends, m.jobRuns, m.partial, m.sendTime)
	return m
}

func (m *ReminderMetrics) Enqueued(kind, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueued.WithLabelValues(kind, source).Add(float64(n))
}

func (m *ReminderMetrics) Claim(won bool) {
	if m == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *ReminderMetrics) Send(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, outcome).Inc()
	m.sendTime.Observe(elapsed.Seconds())
}

func (m *ReminderMetrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

func (m *ReminderMetrics) PartialWrite() {
	if m == nil {
		return
	}
	m.partial.Inc()
}
