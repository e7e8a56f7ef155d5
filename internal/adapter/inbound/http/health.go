package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// HealthChecker verifies component health.
type HealthChecker struct {
	state   *session.State
	storage token.Storage
	boot    Bootstrap
	version string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(state *session.State, storage token.Storage, boot Bootstrap, version string) *HealthChecker {
	return &HealthChecker{
		state:   state,
		storage: storage,
		boot:    boot,
		version: version,
	}
}

// Check performs health checks on all components. Only an unreadable token
// storage makes dashgate unhealthy; being signed out is a normal condition.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.state != nil {
		snap := h.state.Snapshot()
		status := string(snap.Status())
		if snap.Loading {
			status += " (loading)"
		}
		checks["session"] = status
	} else {
		checks["session"] = "not configured"
	}

	if h.storage != nil {
		if _, _, err := h.storage.Get(token.KeyAccessToken); err != nil {
			checks["token_storage"] = fmt.Sprintf("error: %v", err)
			healthy = false
		} else {
			checks["token_storage"] = "ok"
		}
	} else {
		checks["token_storage"] = "not configured"
	}

	if h.boot != nil {
		if h.boot.Initializing() {
			checks["bootstrap"] = "initializing"
		} else {
			checks["bootstrap"] = "ready"
		}
	} else {
		checks["bootstrap"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback when no HealthChecker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Checks: map[string]string{}})
	})
}
