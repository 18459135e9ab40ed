package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/photosync-io/photosync/internal/logger"
	"github.com/photosync-io/photosync/pkg/api"
	"github.com/photosync-io/photosync/pkg/api/auth"
	"github.com/photosync-io/photosync/pkg/classic"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/config"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/store"
	"github.com/photosync-io/photosync/pkg/subscription"
	"github.com/photosync-io/photosync/pkg/workers"
)

var allowDefaultSecret bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the PhotoSync server",
	Long: `Start the backup server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/photosync/config.yaml. All settings
can be overridden with PHOTOSYNC_* environment variables or the legacy
unprefixed names (PORT, JWT_SECRET, UPLOAD_DIR, ...).

Examples:
  # Start with default config location
  photosync start

  # Start with custom config
  photosync start --config /etc/photosync/config.yaml

  # Override settings with environment variables
  PHOTOSYNC_LOGGING_LEVEL=DEBUG photosync start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&allowDefaultSecret, "allow-default-secret", false,
		"Run with the built-in development JWT secret (never in production)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return err
	}

	if cfg.UsingDefaultJWTSecret() {
		if !allowDefaultSecret {
			return fmt.Errorf("refusing to start with the built-in JWT secret; set JWT_SECRET or pass --allow-default-secret for development")
		}
		logger.Warn("running with the built-in development JWT secret; tokens are forgeable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := layout.Resolve(layout.Overrides{
		DataDir:          cfg.Storage.DataDir,
		UploadDir:        cfg.Storage.UploadDir,
		CloudDir:         cfg.Storage.CloudDir,
		DBPath:           cfg.Storage.DBPath,
		CapacityJSONPath: cfg.Storage.CapacityJSONPath,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve data layout: %w", err)
	}
	if err := l.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to prepare data directories: %w", err)
	}
	logger.Info("data layout resolved", "root", l.Root, "db", l.DBPath)

	db, err := store.New(store.Config{Path: l.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: cfg.Auth.JWTSecret})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	resolver := subscription.NewResolver(db, cfg.Subscription.GraceDays, cfg.Subscription.TrialDays)
	quotaMgr := quota.NewManager(db, int64(cfg.Quota.MarginBytes), cfg.Quota.UploadLockEnabled())
	logger.Info("quota reservation core ready",
		"margin_bytes", int64(cfg.Quota.MarginBytes),
		"upload_lock", cfg.Quota.UploadLockEnabled())

	srv := api.NewServer(api.Deps{
		Config:     cfg,
		Store:      db,
		Layout:     l,
		JWTService: jwtService,
		Resolver:   resolver,
		Quota:      quotaMgr,
		Classic:    classic.New(db, l),
		Cloud:      cloud.New(db, l),
		Metrics:    m,
		Registry:   registry,
	})

	runner, err := workers.New(db, l, m)
	if err != nil {
		return fmt.Errorf("failed to schedule background jobs: %w", err)
	}
	runner.Start()
	defer runner.Stop()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("server stopped")
	}
	return nil
}
