package infrastructure

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go-fulfillment/pkg/logger"
)

// Checker checks one dependency; a nil error means healthy
type Checker func(ctx context.Context) error

// CheckResult is the last outcome of a dependency check
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is the aggregate of all dependency checks
type HealthReport struct {
	Status    string                 `json:"status" example:"ok"`
	CheckedAt time.Time              `json:"checked_at"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthMonitor runs dependency checks on an interval and publishes the
// result to the gRPC health service and the HTTP /health endpoint.
// Optional dependencies such as the event bus are reported but never mark
// the service as not serving.
type HealthMonitor struct {
	service  string
	server   *health.Server
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger

	checks   map[string]Checker
	optional map[string]bool

	mu   sync.RWMutex
	last HealthReport
}

// NewHealthMonitor creates a monitor for the named service
func NewHealthMonitor(service string, server *health.Server, interval time.Duration, log *logger.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthMonitor{
		service:  service,
		server:   server,
		interval: interval,
		timeout:  interval / 2,
		log:      log,
		checks:   make(map[string]Checker),
		optional: make(map[string]bool),
		last:     HealthReport{Status: "starting", Checks: map[string]CheckResult{}},
	}
}

// Require registers a check whose failure makes the service not serving
func (m *HealthMonitor) Require(name string, check Checker) {
	m.checks[name] = check
}

// Observe registers a check that is reported but does not gate serving
func (m *HealthMonitor) Observe(name string, check Checker) {
	m.checks[name] = check
	m.optional[name] = true
}

// Check runs every check concurrently and publishes the result
func (m *HealthMonitor) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(m.checks))
	)
	var g errgroup.Group
	for name, check := range m.checks {
		name, check := name, check
		g.Go(func() error {
			res := CheckResult{Healthy: true}
			if err := check(ctx); err != nil {
				res = CheckResult{Healthy: false, Error: err.Error()}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{Status: "ok", CheckedAt: time.Now().UTC(), Checks: results}
	serving := true
	for name, res := range results {
		if res.Healthy {
			continue
		}
		if m.optional[name] {
			if report.Status == "ok" {
				report.Status = "degraded"
			}
			continue
		}
		serving = false
		report.Status = "unavailable"
	}

	m.publish(ctx, report, serving)
	return report
}

func (m *HealthMonitor) publish(ctx context.Context, report HealthReport, serving bool) {
	m.mu.Lock()
	previous := m.last.Status
	m.last = report
	m.mu.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if m.server != nil {
		m.server.SetServingStatus("", status)
		m.server.SetServingStatus(m.service, status)
	}

	if previous != report.Status {
		fields := []zap.Field{zap.String("from", previous), zap.String("to", report.Status)}
		for name, res := range report.Checks {
			if !res.Healthy {
				fields = append(fields, zap.String(name, res.Error))
			}
		}
		m.log.WithContext(ctx).Info("health changed", fields...)
	}
}

// Report returns the last published report
func (m *HealthMonitor) Report() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Run checks dependencies until ctx is done, then marks the service not serving so
// load balancers drain it during shutdown
func (m *HealthMonitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if m.server != nil {
				m.server.Shutdown()
			}
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Handler serves the last report; 503 while a required check fails
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthReport
// @Failure 503 {object} HealthReport
// @Router /health [get]
func (m *HealthMonitor) Handler(c *gin.Context) {
	report := m.Report()
	code := http.StatusOK
	if report.Status == "unavailable" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}
