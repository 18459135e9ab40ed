package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/auth"
	"github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// ChunkIDHeader names the ciphertext chunk being uploaded.
const ChunkIDHeader = "X-Chunk-Id"

// CloudHandler serves the StealthCloud chunk and manifest endpoints.
type CloudHandler struct {
	cloud    *cloud.Store
	quota    *quota.Manager
	resolver *subscription.Resolver
	metrics  *metrics.Metrics
}

// NewCloudHandler creates the StealthCloud handler.
func NewCloudHandler(c *cloud.Store, q *quota.Manager, resolver *subscription.Resolver, m *metrics.Metrics) *CloudHandler {
	return &CloudHandler{cloud: c, quota: q, resolver: resolver, metrics: m}
}

// tenantFromClaims derives the on-disk tenant scope for the session.
// Older layouts keyed by user uuid or integer id are listed as legacy
// keys and migrated on first touch.
func tenantFromClaims(claims *auth.Claims) cloud.Tenant {
	primary := layout.TenantKey(claims.DeviceUUID, claims.UserUUID, claims.UserID)
	var legacy []string
	for _, k := range layout.CandidateKeys(nil, claims.UserUUID, claims.UserID) {
		if k != primary {
			legacy = append(legacy, k)
		}
	}
	return cloud.Tenant{UserID: claims.UserID, Key: primary, LegacyKeys: legacy}
}

func (h *CloudHandler) tenant(w http.ResponseWriter, r *http.Request) (cloud.Tenant, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return cloud.Tenant{}, false
	}
	t := tenantFromClaims(claims)
	if err := h.cloud.EnsureTenant(t); err != nil {
		logger.ErrorCtx(r.Context(), "failed to prepare tenant directories",
			"tenant", t.Key, "error", err)
		InternalServerError(w, "storage unavailable")
		return cloud.Tenant{}, false
	}
	return t, true
}

// UploadChunk stores one ciphertext chunk. Raw octet-stream bodies and
// multipart forms converge on the same verification and admission path.
func (h *CloudHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var body io.ReadCloser
	var size int64
	chunkID := r.Header.Get(ChunkIDHeader)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
		// Chunked transfer encoding reports -1; without a declared size
		// the quota reservation would admit the body unchecked.
		if r.ContentLength < 0 {
			LengthRequired(w, "Content-Length required for chunk uploads")
			return
		}
		body = r.Body
		size = r.ContentLength
	} else {
		part, header, err := h.multipartChunk(r)
		if err != nil {
			BadRequest(w, "multipart field \"chunk\" required")
			return
		}
		defer part.Close()
		body = part
		size = header.Size
		if chunkID == "" {
			chunkID = r.FormValue("chunkId")
		}
	}

	if !cloud.ValidChunkID(chunkID) {
		BadRequest(w, "chunk id must be 64 lowercase hex characters")
		return
	}

	// Content-addressed replay: nothing to verify, nothing to reserve.
	if h.cloud.HasChunk(t, chunkID) {
		h.metrics.UploadsTotal.WithLabelValues("cloud", "duplicate").Inc()
		h.metrics.DedupSkipsTotal.WithLabelValues("cloud").Inc()
		WriteJSONOK(w, map[string]bool{"stored": true})
		return
	}

	st, err := h.resolver.Resolve(r.Context(), t.UserID, time.Now())
	if err != nil {
		logger.ErrorCtx(r.Context(), "failed to resolve plan for quota", "error", err)
		InternalServerError(w, "quota check failed")
		return
	}

	decision, err := h.quota.Reserve(r.Context(), t.UserID, st.PlanGB, size)
	if err != nil {
		logger.ErrorCtx(r.Context(), "quota reservation failed", "error", err)
		InternalServerError(w, "quota check failed")
		return
	}
	// The reservation covers only the in-flight window; release on every
	// exit path, success included.
	defer decision.Release()

	if !decision.Allowed {
		h.metrics.QuotaRejectionsTotal.Inc()
		h.metrics.UploadsTotal.WithLabelValues("cloud", "rejected").Inc()
		QuotaExceeded(w, decision.QuotaBytes, decision.UsedBytes, decision.RemainingBytes)
		return
	}

	stored, err := h.cloud.PutChunk(r.Context(), t, chunkID, body)
	if err != nil {
		switch {
		case errors.Is(err, cloud.ErrChunkHashMismatch):
			BadRequest(w, "Chunk hash mismatch")
		case errors.Is(err, layout.ErrPathEscape):
			Forbidden(w, "invalid path")
		default:
			logger.ErrorCtx(r.Context(), "chunk write failed", "chunk_id", chunkID, "error", err)
			InternalServerError(w, "chunk write failed")
		}
		h.metrics.UploadsTotal.WithLabelValues("cloud", "error").Inc()
		return
	}

	h.metrics.UploadsTotal.WithLabelValues("cloud", "stored").Inc()
	h.metrics.UploadBytes.WithLabelValues("cloud").Observe(float64(stored))
	WriteJSONOK(w, map[string]bool{"stored": true})
}

func (h *CloudHandler) multipartChunk(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, nil, err
	}
	return r.FormFile("chunk")
}

// DownloadChunk streams one ciphertext chunk.
func (h *CloudHandler) DownloadChunk(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	chunkID := chi.URLParam(r, "chunkId")
	f, info, err := h.cloud.OpenChunk(t, chunkID)
	if err != nil {
		switch {
		case errors.Is(err, cloud.ErrInvalidChunkID):
			BadRequest(w, "chunk id must be 64 lowercase hex characters")
		case errors.Is(err, layout.ErrPathEscape):
			Forbidden(w, "invalid path")
		case errors.Is(err, models.ErrChunkNotFound):
			NotFound(w, "chunk not found")
		default:
			logger.ErrorCtx(r.Context(), "chunk read failed", "chunk_id", chunkID, "error", err)
			InternalServerError(w, "chunk read failed")
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, chunkID, info.ModTime(), f)
}

// PurgeCloud wipes every StealthCloud directory and chunk row of the
// tenant.
func (h *CloudHandler) PurgeCloud(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}
	t := tenantFromClaims(claims)

	keys := append([]string{t.Key}, t.LegacyKeys...)
	res, err := h.cloud.Purge(r.Context(), t.UserID, keys)
	if err != nil {
		logger.ErrorCtx(r.Context(), "cloud purge failed", "tenant", t.Key, "error", err)
		InternalServerError(w, "purge failed")
		return
	}
	logger.InfoCtx(r.Context(), "cloud data purged",
		"user_id", t.UserID, "chunks", res.ChunksRemoved, "manifests", res.ManifestsRemoved)
	WriteJSONOK(w, res)
}
