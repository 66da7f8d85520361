package handler

import (
	"net/http"
)

// ConnectionChecker reports whether the push transport is up.
type ConnectionChecker interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	transport ConnectionChecker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(transport ConnectionChecker) *HealthHandler {
	return &HealthHandler{
		transport: transport,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Check NATS connection
	if h.transport == nil || !h.transport.Connected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
