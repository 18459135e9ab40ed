package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/photosync-io/photosync/pkg/api/auth"
)

// DeviceHeader carries the uuid of the device making the request. It
// must match the device the bearer token was issued to.
const DeviceHeader = "X-Device-UUID"

// problem mirrors the RFC 7807 shape used by the handlers package.
// Defined here too so middleware does not import handlers.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	})
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// JWTAuth validates the Bearer token and binds the request to a device.
//
// The X-Device-UUID header is mandatory on authenticated routes and must
// equal the device uuid baked into the token's claims. A valid token
// presented from a different device is refused.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceUUID := strings.TrimSpace(r.Header.Get(DeviceHeader))
			if deviceUUID == "" {
				writeProblem(w, http.StatusBadRequest, "DEVICE_HEADER_REQUIRED", "X-Device-UUID header required")
				return
			}

			tokenString, ok := extractBearerToken(r)
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authorization header required")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				writeProblem(w, http.StatusForbidden, "INVALID_TOKEN", "invalid or expired token")
				return
			}

			if claims.DeviceUUID != deviceUUID {
				writeProblem(w, http.StatusForbidden, "DEVICE_MISMATCH", "token was not issued to this device")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
