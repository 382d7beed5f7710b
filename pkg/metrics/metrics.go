package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

// ServerMetrics holds HTTP request metrics
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics registers HTTP metrics for a service
func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware records one sample per request, labelled by route template
func (m *ServerMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// LifecycleMetrics counts status changes, refused commands, saga steps and
// admission outcomes. A nil *LifecycleMetrics is a no-op.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	refusals    *prometheus.CounterVec
	sagaSteps   *prometheus.CounterVec
	admissions  *prometheus.CounterVec
}

// NewLifecycleMetrics registers lifecycle metrics for a service
func NewLifecycleMetrics(reg prometheus.Registerer, service string) *LifecycleMetrics {
	m := &LifecycleMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "status_transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"entity", "from", "to"}),
		refusals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "mutations_refused_total",
			Help:      "Store mutations refused, by error code.",
		}, []string{"entity", "code"}),
		sagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "saga_steps_total",
			Help:      "Reconciliation saga steps by result.",
		}, []string{"step", "result"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "admission_outcomes_total",
			Help:      "Admission wait outcomes.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.transitions, m.refusals, m.sagaSteps, m.admissions)
	return m
}

func (m *LifecycleMetrics) ObserveTransition(entity, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

func (m *LifecycleMetrics) ObserveRefusal(entity, code string) {
	if m == nil {
		return
	}
	m.refusals.WithLabelValues(entity, code).Inc()
}

func (m *LifecycleMetrics) ObserveSagaStep(step, result string) {
	if m == nil {
		return
	}
	m.sagaSteps.WithLabelValues(step, result).Inc()
}

func (m *LifecycleMetrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// Handler exposes the given gatherer in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
