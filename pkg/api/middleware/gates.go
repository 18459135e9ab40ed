package middleware

import (
	"net/http"
	"time"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// RequireUploadAllowed blocks writes for tenants whose subscription does
// not admit new data. Must run after JWTAuth.
func RequireUploadAllowed(resolver *subscription.Resolver, m *metrics.Metrics) func(http.Handler) http.Handler {
	return gate(resolver, m, (*subscription.Resolver).CheckUpload)
}

// RequireReadAllowed blocks reads only once tenant data has been
// deleted. Must run after JWTAuth.
func RequireReadAllowed(resolver *subscription.Resolver, m *metrics.Metrics) func(http.Handler) http.Handler {
	return gate(resolver, m, (*subscription.Resolver).CheckRead)
}

func gate(resolver *subscription.Resolver, m *metrics.Metrics, check func(*subscription.Resolver, *subscription.Status) *subscription.GateError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				writeProblem(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required")
				return
			}

			st, err := resolver.Resolve(r.Context(), claims.UserID, time.Now())
			if err != nil {
				logger.ErrorCtx(r.Context(), "subscription resolution failed",
					"user_id", claims.UserID, "error", err)
				writeProblem(w, http.StatusInternalServerError, "", "subscription check failed")
				return
			}
			if gateErr := check(resolver, st); gateErr != nil {
				if m != nil {
					m.GateRefusalsTotal.WithLabelValues(gateErr.Code).Inc()
				}
				writeProblem(w, gateErr.HTTPStatus, gateErr.Code, gateErr.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
