package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"transvisor/internal/store"
)

type Readiness interface {
	IsReady() bool
}

type HealthHandler struct {
	loader   Readiness
	registry *store.Registry
}

func NewHealthHandler(loader Readiness, registry *store.Registry) *HealthHandler {
	return &HealthHandler{
		loader:   loader,
		registry: registry,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready      bool      `json:"ready"`
	RouteCount int       `json:"routeCount"`
	ServerTime time.Time `json:"serverTime"`
}

// Readyz reports ready once every configured source has been tried, whether
// or not it loaded.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.loader.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:      ready,
		RouteCount: h.registry.Len(),
		ServerTime: time.Now(),
	})
}
