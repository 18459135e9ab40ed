package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/layout"
)

// CapacityHandler serves the worker-generated capacity report.
type CapacityHandler struct {
	layout *layout.Layout
}

// NewCapacityHandler creates the capacity handler.
func NewCapacityHandler(l *layout.Layout) *CapacityHandler {
	return &CapacityHandler{layout: l}
}

// Report serves the latest capacity JSON verbatim. The worker rewrites
// the file atomically, so readers never see a torn write. no-store keeps
// stale copies out of intermediate caches.
func (h *CapacityHandler) Report(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.layout.CapacityJSONPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			NotFound(w, "capacity report not generated yet")
			return
		}
		logger.ErrorCtx(r.Context(), "capacity report read failed", "error", err)
		InternalServerError(w, "capacity report unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
