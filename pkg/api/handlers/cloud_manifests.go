package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/models"
)

type manifestUploadRequest struct {
	ManifestID        string `json:"manifestId"`
	EncryptedManifest string `json:"encryptedManifest"`
	ChunkCount        *int   `json:"chunkCount"`
}

type manifestRef struct {
	ManifestID string `json:"manifestId"`
}

// UploadManifest stores one encrypted manifest envelope. Last writer
// wins for the same id.
func (h *CloudHandler) UploadManifest(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req manifestUploadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.EncryptedManifest == "" {
		BadRequest(w, "encryptedManifest required")
		return
	}
	if req.ChunkCount != nil && *req.ChunkCount <= 0 {
		BadRequest(w, "chunkCount must be positive")
		return
	}

	env, err := h.cloud.SaveManifest(t, req.ManifestID, req.EncryptedManifest)
	if err != nil {
		switch {
		case errors.Is(err, cloud.ErrInvalidManifestID):
			BadRequest(w, "invalid manifest id")
		case errors.Is(err, layout.ErrPathEscape):
			Forbidden(w, "invalid path")
		default:
			logger.ErrorCtx(r.Context(), "manifest write failed",
				"manifest_id", req.ManifestID, "error", err)
			InternalServerError(w, "manifest write failed")
		}
		return
	}

	WriteJSONOK(w, map[string]any{
		"stored":     true,
		"manifestId": env.ManifestID,
		"createdAt":  env.CreatedAt,
	})
}

// ListManifests returns the sorted manifest ids with pagination. The
// set shrinks when files are deleted, so caching is disabled.
func (h *CloudHandler) ListManifests(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	ids, total, err := h.cloud.ListManifests(t, offset, limit)
	if err != nil {
		logger.ErrorCtx(r.Context(), "manifest list failed", "error", err)
		InternalServerError(w, "list failed")
		return
	}

	refs := make([]manifestRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, manifestRef{ManifestID: id})
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSONOK(w, map[string]any{
		"manifests": refs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

// FetchManifest returns one envelope verbatim.
func (h *CloudHandler) FetchManifest(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenant(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	env, err := h.cloud.ReadManifest(t, id)
	if err != nil {
		switch {
		case errors.Is(err, cloud.ErrInvalidManifestID):
			BadRequest(w, "invalid manifest id")
		case errors.Is(err, models.ErrManifestNotFound):
			NotFound(w, "manifest not found")
		default:
			logger.ErrorCtx(r.Context(), "manifest read failed", "manifest_id", id, "error", err)
			InternalServerError(w, "manifest read failed")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSONOK(w, env)
}
