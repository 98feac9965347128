package api

import (
	"net/http"
	"time"

	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/hosts"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	bus       *eventbus.Bus
	directory hosts.Directory
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(bus *eventbus.Bus, directory hosts.Directory) *HealthHandler {
	return &HealthHandler{bus: bus, directory: directory}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Health handles GET /health (liveness probe)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready handles GET /ready (readiness probe). It reports the event bus state
// and whether the host directory can be read.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"event_bus": "ok",
		"hosts":     "ok",
	}
	status := http.StatusOK
	response := ReadinessResponse{Status: "ready", Timestamp: time.Now(), Checks: checks}

	if h.bus.Closed() {
		checks["event_bus"] = "closed"
		status = http.StatusServiceUnavailable
	}
	if _, err := h.directory.Load(r.Context()); err != nil {
		checks["hosts"] = "unreadable"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusOK {
		response.Status = "not_ready"
	}

	sendJSON(w, status, response)
}
