package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultCheckTimeout bounds a full /health evaluation.
const DefaultCheckTimeout = 5 * time.Second

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// HealthCheck must return once ctx is done.
type HealthCheck func(ctx context.Context) CheckResult

// Pinger is anything that can prove liveness with a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

type registeredCheck struct {
	fn       HealthCheck
	optional bool
}

// HealthChecker runs named checks concurrently and folds them into one
// status. A failing optional check degrades the service instead of taking
// it out of rotation.
type HealthChecker struct {
	service string
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]registeredCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		started: time.Now(),
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]registeredCheck),
	}
}

// AddCheck registers a check whose failure makes the service unhealthy.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.add(name, check, false)
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (hc *HealthChecker) AddOptionalCheck(name string, check HealthCheck) {
	hc.add(name, check, true)
}

func (hc *HealthChecker) add(name string, check HealthCheck, optional bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = registeredCheck{fn: check, optional: optional}
}

// CheckNames lists registered checks in a stable order.
func (hc *HealthChecker) CheckNames() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs every check under a shared deadline.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	hc.mu.RLock()
	checks := make(map[string]registeredCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]CheckResult, len(checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			result := check.fn(gctx)
			result.Optional = check.optional
			resultsMu.Lock()
			results[name] = result
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    overallStatus(results),
		Service:   hc.service,
		Version:   hc.version,
		Uptime:    time.Since(hc.started).Round(time.Second).String(),
		Timestamp: time.Now().Unix(),
		Checks:    results,
	}
	return status
}

func overallStatus(results map[string]CheckResult) string {
	overall := StatusHealthy
	for _, r := range results {
		switch {
		case r.Status == StatusHealthy:
		case r.Status == StatusDegraded || r.Optional:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		default:
			return StatusUnhealthy
		}
	}
	return overall
}

// Handler serves CheckHealth; only an unhealthy service answers 503.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth(c.Request.Context())
		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, health)
	}
}

// PingHealthCheck reports unhealthy when p is nil or its ping fails within
// timeout. Used for the hub loop and the Kafka clients alike.
func PingHealthCheck(component string, p Pinger, timeout time.Duration) HealthCheck {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return func(ctx context.Context) CheckResult {
		if p == nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s is not configured", component),
			}
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		latency := time.Since(start).String()
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s ping failed: %v", component, err),
				Latency: latency,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s responding", component),
			Latency: latency,
		}
	}
}

// ConfigurationHealthCheck fails when any of the named settings is empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func(context.Context) CheckResult {
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "missing configuration: " + strings.Join(missing, ", "),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "configuration present"}
	}
}
