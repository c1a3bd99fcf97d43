package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress/sinks"
)

// ProgressSource exposes the latest crawl snapshot.
type ProgressSource interface {
	Snapshot() sinks.Snapshot
}

// ProgressHandler exposes read-only crawl progress endpoints.
type ProgressHandler struct {
	source ProgressSource
	logger *zap.Logger
}

// NewProgressHandler wires the snapshot source and logger.
func NewProgressHandler(source ProgressSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// Get handles GET /v1/progress. It returns {"progress": {...}} or 503 when
// progress tracking is disabled.
func (h *ProgressHandler) Get(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": h.source.Snapshot()})
}

// Ready handles GET /readyz. A failed run reports 503 so orchestrators can
// notice it; idle, running and finished runs are ready.
func (h *ProgressHandler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	snap := h.source.Snapshot()
	if snap.State == sinks.StateFailed {
		h.logger.Debug("readiness reports failed run", zap.String("run_id", snap.RunID))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": snap.State, "error": snap.LastError})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": snap.State})
}
