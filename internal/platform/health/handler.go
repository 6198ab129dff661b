// Package health provides HTTP health check endpoints for liveness, readiness, and status probes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"bookmarks/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

const checkTimeout = 2 * time.Second

// CheckFunc checks the health of a dependency, returning nil when healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	fn       CheckFunc
	critical bool
	upText   string
	downText string
}

// Handler provides health check endpoints.
//
// Critical checks gate readiness and the overall status. Optional checks are
// reported but never fail the probe; the admission layer serves traffic
// without Redis, so Redis is registered as optional.
type Handler struct {
	startTime   time.Time
	environment string

	mu     sync.RWMutex
	checks map[string]check
}

// New creates a new health handler.
func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		checks:      make(map[string]check),
	}
}

// RegisterCheck adds a critical dependency check.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.register(name, check{fn: fn, critical: true, upText: "up", downText: "down"})
}

// RegisterOptionalCheck adds a dependency that is reported as upText or
// downText but never makes the service unready.
func (h *Handler) RegisterOptionalCheck(name, upText, downText string, fn CheckFunc) {
	h.register(name, check{fn: fn, upText: upText, downText: downText})
}

func (h *Handler) register(name string, c check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = c
}

// Register mounts health check routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// LivenessResponse is the response for the liveness probe.
type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness returns 200 whenever the process is serving.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{
		Status: "alive",
	})
}

// ReadinessResponse is the response for the readiness probe.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness returns 503 if any critical dependency is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	results, healthy := h.run(r.Context())

	response := ReadinessResponse{Status: "ready", Checks: results}
	if !healthy {
		response.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

// StatusResponse is the response for the general health status endpoint.
type StatusResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Environment   string            `json:"environment"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
}

// HandleStatus reports version, uptime and dependency state. It always
// answers 200; status is "degraded" only when a critical check fails.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	results, healthy := h.run(r.Context())

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        status,
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Dependencies:  results,
	})
}

func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		c := checks[name]
		if err := c.fn(ctx); err != nil {
			results[name] = c.downText
			if c.critical {
				results[name] = c.downText + ": " + err.Error()
				healthy = false
			}
			continue
		}
		results[name] = c.upText
	}
	return results, healthy
}
