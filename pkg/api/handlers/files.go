package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/classic"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/models"
)

// maxMultipartMemory bounds the in-memory part of multipart parsing;
// larger bodies spill to disk.
const maxMultipartMemory = 16 << 20

// FilesHandler serves the classic per-device plaintext store.
type FilesHandler struct {
	classic *classic.Store
	metrics *metrics.Metrics
}

// NewFilesHandler creates the classic files handler.
func NewFilesHandler(c *classic.Store, m *metrics.Metrics) *FilesHandler {
	return &FilesHandler{classic: c, metrics: m}
}

func (h *FilesHandler) recordUpload(res *classic.UploadResult) {
	if res.Duplicate {
		h.metrics.UploadsTotal.WithLabelValues("classic", "duplicate").Inc()
		h.metrics.DedupSkipsTotal.WithLabelValues("classic").Inc()
		return
	}
	h.metrics.UploadsTotal.WithLabelValues("classic", "stored").Inc()
	h.metrics.UploadBytes.WithLabelValues("classic").Observe(float64(res.Size))
}

// Upload accepts a multipart form with a "file" part.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		BadRequest(w, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		BadRequest(w, "multipart field \"file\" required")
		return
	}
	defer file.Close()

	res, err := h.classic.SaveUpload(r.Context(), claims.UserID, claims.DeviceUUID,
		header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.metrics.UploadsTotal.WithLabelValues("classic", "error").Inc()
		h.writeUploadError(w, r, err)
		return
	}
	h.recordUpload(res)
	WriteJSONOK(w, res)
}

// UploadRaw accepts a streamed body with the original name in the
// X-Filename header. Same dedup semantics as the multipart path.
func (h *FilesHandler) UploadRaw(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		BadRequest(w, "X-Filename header required")
		return
	}

	res, err := h.classic.SaveUpload(r.Context(), claims.UserID, claims.DeviceUUID,
		filename, r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.metrics.UploadsTotal.WithLabelValues("classic", "error").Inc()
		h.writeUploadError(w, r, err)
		return
	}
	h.recordUpload(res)
	WriteJSONOK(w, res)
}

func (h *FilesHandler) writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, layout.ErrPathEscape):
		Forbidden(w, "invalid path")
	case errors.Is(err, classic.ErrInvalidFilename):
		BadRequest(w, "invalid filename")
	default:
		logger.ErrorCtx(r.Context(), "classic upload failed", "error", err)
		InternalServerError(w, "upload failed")
	}
}

// List returns the device directory listing with pagination.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)
	entries, total, err := h.classic.List(r.Context(), claims.DeviceUUID, offset, limit)
	if err != nil {
		logger.ErrorCtx(r.Context(), "file list failed", "error", err)
		InternalServerError(w, "list failed")
		return
	}
	WriteJSONOK(w, map[string]any{
		"files":  entries,
		"total":  total,
		"offset": offset,
		"limit":  limit,
	})
}

// Download streams one file from the device directory.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	name := chi.URLParam(r, "name")
	f, info, err := h.classic.Open(claims.DeviceUUID, name)
	if err != nil {
		switch {
		case errors.Is(err, layout.ErrPathEscape):
			Forbidden(w, "invalid path")
		case errors.Is(err, models.ErrFileNotFound):
			NotFound(w, "file not found")
		default:
			logger.ErrorCtx(r.Context(), "file download failed", "filename", name, "error", err)
			InternalServerError(w, "download failed")
		}
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Purge deletes the device directory and every classic index row.
func (h *FilesHandler) Purge(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	count, err := h.classic.Purge(r.Context(), claims.UserID, claims.DeviceUUID)
	if err != nil {
		logger.ErrorCtx(r.Context(), "classic purge failed", "error", err)
		InternalServerError(w, "purge failed")
		return
	}
	logger.InfoCtx(r.Context(), "classic data purged",
		"user_id", claims.UserID, "device_uuid", claims.DeviceUUID, "deleted", count)
	WriteJSONOK(w, map[string]int{"deleted": count})
}
