// Package api assembles the HTTP surface of the backup service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api/auth"
	"github.com/photosync-io/photosync/pkg/api/handlers"
	apimiddleware "github.com/photosync-io/photosync/pkg/api/middleware"
	"github.com/photosync-io/photosync/pkg/classic"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/config"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/store"
	"github.com/photosync-io/photosync/pkg/subscription"
)

// chunkTimeout is generous because chunk bodies are large; everything
// else answers quickly or not at all.
const (
	chunkTimeout   = 2 * time.Minute
	defaultTimeout = 30 * time.Second
)

// Deps carries the shared components the router wires together.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Layout     *layout.Layout
	JWTService *auth.JWTService
	Resolver   *subscription.Resolver
	Quota      *quota.Manager
	Classic    *classic.Store
	Cloud      *cloud.Store
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Middleware order: security headers → CORS → request id/real ip →
// request logging → recovery → (per group) rate limit or auth →
// subscription gate → handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(apimiddleware.SecurityHeaders)
	r.Use(apimiddleware.CORS(d.Config.Server.CORSOrigin))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	authHandler := handlers.NewAuthHandler(d.Store, d.JWTService, d.Resolver, d.Config.Auth.BcryptRounds)
	subHandler := handlers.NewSubscriptionHandler(d.Resolver, d.Config.Subscription.RevenueCatWebhookSecret)
	filesHandler := handlers.NewFilesHandler(d.Classic, d.Metrics)
	cloudHandler := handlers.NewCloudHandler(d.Cloud, d.Quota, d.Resolver, d.Metrics)
	stateHandler := handlers.NewDeviceStateHandler(d.Store)
	usageHandler := handlers.NewUsageHandler(d.Store, d.Quota, d.Resolver, d.Layout)
	capacityHandler := handlers.NewCapacityHandler(d.Layout)

	jwtAuth := apimiddleware.JWTAuth(d.JWTService)
	uploadGate := apimiddleware.RequireUploadAllowed(d.Resolver, d.Metrics)
	readGate := apimiddleware.RequireReadAllowed(d.Resolver, d.Metrics)
	authLimiter := apimiddleware.NewRateLimiter(d.Config.Auth.RateLimitWindow(), d.Config.Auth.RateLimitMax)

	// Unauthenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(defaultTimeout))

		r.Get("/", handlers.Root)
		r.Get("/health", handlers.Health)

		r.Get("/api/capacity", capacityHandler.Report)
		r.Get("/.well-known/photosync-capacity.json", capacityHandler.Report)
		r.Get("/.well-known/stealthcloud-capacity.json", capacityHandler.Report)

		if d.Registry != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
		}

		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Handler)
			r.Post("/api/register", authHandler.Register)
			r.Post("/api/login", authHandler.Login)
		})

		r.Post("/api/revenuecat/webhook", subHandler.Webhook)
	})

	// Authenticated, no subscription gate.
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(defaultTimeout))
		r.Use(jwtAuth)

		r.Get("/api/subscription/status", subHandler.Status)
		r.Get("/api/cloud/usage", usageHandler.Usage)
	})

	// Upload-gated writes.
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(chunkTimeout))
		r.Use(jwtAuth)
		r.Use(uploadGate)

		r.Post("/api/upload", filesHandler.Upload)
		r.Post("/api/upload/raw", filesHandler.UploadRaw)
		r.Post("/api/cloud/chunks", cloudHandler.UploadChunk)
	})
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(defaultTimeout))
		r.Use(jwtAuth)
		r.Use(uploadGate)

		r.Post("/api/cloud/manifests", cloudHandler.UploadManifest)
	})

	// Read-gated surface; chunk downloads keep the long timeout.
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(chunkTimeout))
		r.Use(jwtAuth)
		r.Use(readGate)

		r.Get("/api/cloud/chunks/{chunkId}", cloudHandler.DownloadChunk)
		r.Get("/api/files/{name}", filesHandler.Download)
	})
	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(defaultTimeout))
		r.Use(jwtAuth)
		r.Use(readGate)

		r.Get("/api/files", filesHandler.List)
		r.Post("/api/files/purge", filesHandler.Purge)
		r.Get("/api/cloud/manifests", cloudHandler.ListManifests)
		r.Get("/api/cloud/manifests/{id}", cloudHandler.FetchManifest)
		r.Get("/api/cloud/device-state", stateHandler.Get)
		r.Put("/api/cloud/device-state", stateHandler.Put)
		r.Post("/api/cloud/purge", cloudHandler.PurgeCloud)
	})

	return r
}

// requestLogger logs requests using the internal logger.
//
// Request start is DEBUG; completion is INFO except for health and
// capacity probes, which stay at DEBUG to keep the logs readable.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if isQuietPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isQuietPath(path string) bool {
	return path == "/health" || path == "/metrics" ||
		path == "/api/capacity" || strings.HasPrefix(path, "/.well-known/")
}
