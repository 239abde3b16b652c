// health.go - Health monitoring and the diagnostics HTTP surface.
package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the status of a single checked component.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the result of one named check.
type ComponentHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	LastCheck time.Time    `json:"last_check"`
}

// SystemHealth is the aggregate of every registered component.
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
}

// HealthChecker runs a set of named boolean checks on demand.
type HealthChecker struct {
	mu        sync.RWMutex
	startTime time.Time
	checkers  map[string]func() error
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checkers:  make(map[string]func() error),
	}
}

// RegisterComponent adds a named check. checker returning a non-nil
// error marks the component (and the overall system) unhealthy.
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkers[name] = checker
}

func (hc *HealthChecker) Check() SystemHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.checkers))
	for name, checker := range hc.checkers {
		status, message := Healthy, "OK"
		if err := checker(); err != nil {
			status, message = Unhealthy, err.Error()
			overall = Unhealthy
		}
		components = append(components, ComponentHealth{
			Name: name, Status: status, Message: message, LastCheck: time.Now(),
		})
	}
	return SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
	}
}

// NewDiagnosticsRouter builds the gin engine serving /healthz and
// /metrics, billingd's sidecar surface for orchestrators and scraping.
func NewDiagnosticsRouter(hc *HealthChecker, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		health := hc.Check()
		code := http.StatusOK
		if health.OverallStatus != Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return r
}
