package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// SubscriptionHandler serves the resolved subscription state and the
// external billing webhook.
type SubscriptionHandler struct {
	resolver      *subscription.Resolver
	webhookSecret string
}

// NewSubscriptionHandler creates the subscription handler.
func NewSubscriptionHandler(resolver *subscription.Resolver, webhookSecret string) *SubscriptionHandler {
	return &SubscriptionHandler{resolver: resolver, webhookSecret: webhookSecret}
}

// Status returns the effective subscription state, applying any due
// lifecycle transitions.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "authentication required")
		return
	}

	st, err := h.resolver.Resolve(r.Context(), claims.UserID, time.Now())
	if err != nil {
		logger.ErrorCtx(r.Context(), "failed to resolve subscription",
			"user_id", claims.UserID, "error", err)
		InternalServerError(w, "failed to resolve subscription")
		return
	}
	WriteJSONOK(w, st)
}

// Webhook applies a RevenueCat event. Authenticated by a shared bearer
// secret rather than a user token.
func (h *SubscriptionHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		NotFound(w, "webhook not configured")
		return
	}
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.webhookSecret)) != 1 {
		Unauthorized(w, "invalid webhook secret")
		return
	}

	// RevenueCat sends many fields beyond the ones consumed here, so the
	// strict decoder is not used.
	var env subscription.Envelope
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		BadRequest(w, "invalid webhook body")
		return
	}
	if env.Event.AppUserID == "" {
		BadRequest(w, "event.app_user_id required")
		return
	}

	if err := h.resolver.ApplyEvent(r.Context(), &env.Event); err != nil {
		logger.ErrorCtx(r.Context(), "failed to apply subscription event",
			"type", env.Event.Type, "app_user_id", env.Event.AppUserID, "error", err)
		InternalServerError(w, "failed to apply event")
		return
	}

	logger.InfoCtx(r.Context(), "subscription event applied",
		"type", env.Event.Type, "app_user_id", env.Event.AppUserID)
	WriteJSONOK(w, map[string]bool{"ok": true})
}
