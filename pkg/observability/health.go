package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	readinessTimeout = 5 * time.Second
	probeTimeout     = 3 * time.Second
)

// Probe reports whether a dependency is usable
type Probe func(ctx context.Context) error

type dependency struct {
	name     string
	critical bool
	probe    Probe
}

// HealthChecker answers liveness and readiness probes. A failing critical
// dependency makes the service unhealthy; any other failure degrades it.
type HealthChecker struct {
	version      string
	dependencies []dependency
}

// NewHealthChecker creates a health checker without dependencies
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version}
}

// AddDependency registers a probe for readiness checks
func (h *HealthChecker) AddDependency(name string, critical bool, probe Probe) *HealthChecker {
	h.dependencies = append(h.dependencies, dependency{name: name, critical: critical, probe: probe})
	return h
}

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the result of one probe
type DependencyStatus struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Liveness always answers 200 while the process serves HTTP
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every probe concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.dependencies)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, dep := range h.dependencies {
		wg.Add(1)
		go func(dep dependency) {
			defer wg.Done()
			result := runProbe(ctx, dep)

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[dep.name] = result
		}(dep)
	}
	wg.Wait()

	names := make([]string, 0, len(status.Dependencies))
	for name := range status.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := status.Dependencies[name]
		if dep.Status != StatusUnhealthy {
			continue
		}
		if dep.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func runProbe(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := dep.probe(ctx)
	result := DependencyStatus{
		Status:    StatusHealthy,
		Critical:  dep.critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// RedisProbe pings the shared membership cache
func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// HTTPProbe expects a 2xx answer to a GET of url. A nil client uses
// http.DefaultClient.
func HTTPProbe(client *http.Client, url string) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return nil
	}
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/-/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/-/health/ready", checker.Readiness).Methods(http.MethodGet)
}
