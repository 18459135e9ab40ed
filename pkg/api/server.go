package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/photosync-io/photosync/internal/logger"
)

// Server runs the HTTP listener, and optionally an HTTPS listener with
// an HTTP-to-HTTPS redirect.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	httpServer   *http.Server
	tlsServer    *http.Server
	deps         Deps
	shutdownOnce sync.Once
}

// NewServer creates a new API HTTP server.
//
// The server is created in a stopped state. Call Start() to begin
// serving requests.
func NewServer(deps Deps) *Server {
	router := NewRouter(deps)
	cfg := deps.Config.Server

	s := &Server{deps: deps}

	httpHandler := router
	if cfg.EnableHTTPS && cfg.ForceHTTPSRedirect {
		httpHandler = redirectToHTTPS(cfg.HTTPSPort)
	}
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     httpHandler,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 2 * time.Minute,
	}

	if cfg.EnableHTTPS {
		s.tlsServer = &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.HTTPSPort),
			Handler:     router,
			ReadTimeout: 5 * time.Minute,
			IdleTimeout: 2 * time.Minute,
		}
	}
	return s
}

func redirectToHTTPS(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := fmt.Sprintf("https://%s:%d%s", host, port, r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

// Start starts the listener(s) and blocks until the context is
// cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 2)

	go func() {
		logger.Info("HTTP server listening", "port", s.deps.Config.Server.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	if s.tlsServer != nil {
		cfg := s.deps.Config.Server
		go func() {
			logger.Info("HTTPS server listening", "port", cfg.HTTPSPort)
			err := s.tlsServer.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			if err != nil && err != http.ErrServerClosed {
				select {
				case errChan <- err:
				default:
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.deps.Config.Server.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start().
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			logger.Error("server shutdown error", "error", err)
		}
		if s.tlsServer != nil {
			if err := s.tlsServer.Shutdown(ctx); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("TLS server shutdown error: %w", err)
			}
		}
		if shutdownErr == nil {
			logger.Info("server stopped gracefully")
		}
	})
	return shutdownErr
}
