package handlers

import (
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/store"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// UsageHandler reports quota consumption for the StealthCloud tier.
type UsageHandler struct {
	store    *store.Store
	quota    *quota.Manager
	resolver *subscription.Resolver
	layout   *layout.Layout
}

// NewUsageHandler creates the usage handler.
func NewUsageHandler(s *store.Store, q *quota.Manager, resolver *subscription.Resolver, l *layout.Layout) *UsageHandler {
	return &UsageHandler{store: s, quota: q, resolver: resolver, layout: l}
}

type usageResponse struct {
	PlanGB          int                  `json:"planGb"`
	QuotaBytes      int64                `json:"quotaBytes"`
	UsedBytes       int64                `json:"usedBytes"`
	RemainingBytes  int64                `json:"remainingBytes"`
	MarginBytes     int64                `json:"marginBytes"`
	Subscription    *subscription.Status `json:"subscription"`
	ServerFreeBytes int64                `json:"serverFreeBytes"`
}

// Usage returns the tenant's quota numbers plus the free space of the
// volume backing the cloud tree.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	st, err := h.resolver.Resolve(r.Context(), claims.UserID, time.Now())
	if err != nil {
		logger.ErrorCtx(r.Context(), "failed to resolve subscription", "error", err)
		InternalServerError(w, "usage unavailable")
		return
	}

	used, err := h.store.SumChunkSizes(r.Context(), claims.UserID)
	if err != nil {
		logger.ErrorCtx(r.Context(), "failed to sum chunk sizes", "error", err)
		InternalServerError(w, "usage unavailable")
		return
	}

	planBytes := int64(st.PlanGB) * quota.BytesPerGB
	remaining := planBytes - used
	if remaining < 0 {
		remaining = 0
	}

	resp := usageResponse{
		PlanGB:         st.PlanGB,
		QuotaBytes:     planBytes + h.quota.MarginBytes(),
		UsedBytes:      used,
		RemainingBytes: remaining,
		MarginBytes:    h.quota.MarginBytes(),
		Subscription:   st,
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(h.layout.CloudDir, &fs); err == nil {
		resp.ServerFreeBytes = int64(fs.Bavail) * fs.Bsize
	}

	WriteJSONOK(w, resp)
}
