// Package health serves liveness and readiness checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/promptsource/internal/store"
)

// Readiness states. A failing cache tier only degrades the service since
// resolution falls through to the remaining tiers, the origin and the
// fallback chain. Without tenant configuration nothing can resolve.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

const configStoreCheck = "tenant_config_store"

// Pinger is anything readiness can ping
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	configStore Pinger
	tiers       []store.Tier
	timeout     time.Duration
	logger      *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(configStore Pinger, tiers []store.Tier, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		configStore: configStore,
		tiers:       tiers,
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

// LivenessHandler handles liveness requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{Status: "alive", Timestamp: time.Now().Unix()})
}

// ReadinessHandler answers 200 while the service can resolve prompts, even
// with some cache tiers down, and 503 once tenant configuration is unreachable.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, checks := h.Check(ctx)
	code := http.StatusOK
	if status == StatusNotReady {
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, HealthStatus{Status: status, Timestamp: time.Now().Unix(), Checks: checks})
}

// Check pings every dependency concurrently and folds the results into one
// readiness state.
func (h *HealthChecker) Check(ctx context.Context) (string, map[string]string) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.tiers)+1)
		failed = make(map[string]bool)
	)
	check := func(name string, p Pinger) func() error {
		return func() error {
			err := p.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
				checks[name] = "unhealthy: " + err.Error()
				failed[name] = true
				return nil
			}
			checks[name] = "healthy"
			return nil
		}
	}

	var g errgroup.Group
	if h.configStore != nil {
		g.Go(check(configStoreCheck, h.configStore))
	}
	for _, tier := range h.tiers {
		g.Go(check("cache_"+string(tier.Name()), tier))
	}
	g.Wait()

	switch {
	case failed[configStoreCheck]:
		return StatusNotReady, checks
	case len(failed) > 0:
		return StatusDegraded, checks
	default:
		return StatusReady, checks
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
