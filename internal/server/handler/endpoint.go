package handler

import (
	"net/http"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
)

// PoolSource exposes one endpoint pool's health.
type PoolSource interface {
	Name() string
	Snapshot() []domain.EndpointStatus
}

// EndpointHandler serves endpoint health for every pool.
type EndpointHandler struct {
	pools []PoolSource
}

func NewEndpointHandler(pools ...PoolSource) *EndpointHandler {
	return &EndpointHandler{pools: pools}
}

type poolStatus struct {
	Pool      string                  `json:"pool"`
	Endpoints []domain.EndpointStatus `json:"endpoints"`
}

// ListEndpoints returns per-endpoint state, error counts and cooldown expiry.
// GET /api/endpoints
func (h *EndpointHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	out := make([]poolStatus, 0, len(h.pools))
	for _, p := range h.pools {
		out = append(out, poolStatus{Pool: p.Name(), Endpoints: p.Snapshot()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}
