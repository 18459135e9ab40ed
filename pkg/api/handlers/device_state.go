package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/models"
	"github.com/photosync-io/photosync/pkg/store"
)

// maxDeviceStateBytes caps the per-device sync state blob at 100 KiB.
const maxDeviceStateBytes = 100 * 1024

// DeviceStateHandler stores the per-(user, device) sync state blob.
type DeviceStateHandler struct {
	store *store.Store
}

// NewDeviceStateHandler creates the device state handler.
func NewDeviceStateHandler(s *store.Store) *DeviceStateHandler {
	return &DeviceStateHandler{store: s}
}

// Get returns the stored state, or an empty object when none exists.
func (h *DeviceStateHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	state, err := h.store.GetDeviceState(r.Context(), claims.UserID, claims.DeviceUUID)
	if err != nil {
		if errors.Is(err, models.ErrStateNotFound) {
			WriteJSONOK(w, map[string]any{})
			return
		}
		logger.ErrorCtx(r.Context(), "device state read failed", "error", err)
		InternalServerError(w, "state read failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(state.StateJSON))
}

// Put replaces the stored state. The body must be a JSON object no
// larger than 100 KiB.
func (h *DeviceStateHandler) Put(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeviceStateBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			PayloadTooLarge(w, "device state exceeds 100 KiB")
			return
		}
		BadRequest(w, "failed to read body")
		return
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		BadRequest(w, "device state must be a JSON object")
		return
	}

	if err := h.store.PutDeviceState(r.Context(), claims.UserID, claims.DeviceUUID, string(body)); err != nil {
		logger.ErrorCtx(r.Context(), "device state write failed", "error", err)
		InternalServerError(w, "state write failed")
		return
	}
	WriteJSONOK(w, map[string]bool{"ok": true})
}
