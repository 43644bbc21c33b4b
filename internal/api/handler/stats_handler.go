package handler

import (
	"net/http"

	"github.com/casetrack/notify-gateway/internal/registry"
	"github.com/casetrack/notify-gateway/internal/repository"
)

// StatsHandler serves a human-readable JSON snapshot of live delivery state.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type StatsHandler struct {
	reg     *registry.Registry
	offline repository.OfflineQueueRepository
}

func NewStatsHandler(reg *registry.Registry, offline repository.OfflineQueueRepository) *StatsHandler {
	return &StatsHandler{reg: reg, offline: offline}
}

// GetStats handles GET /api/v1/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	depth, err := h.offline.Depth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"active_connections":  h.reg.Size(),
		"offline_queue_depth": depth,
	})
}
