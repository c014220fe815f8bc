package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/cache"
	"github.com/steeveross-eng/huntiq-sync/internal/config"
	"github.com/steeveross-eng/huntiq-sync/internal/logger"
	"github.com/steeveross-eng/huntiq-sync/internal/notify"
	"github.com/steeveross-eng/huntiq-sync/internal/outbox"
	"github.com/steeveross-eng/huntiq-sync/internal/router"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/telemetry"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
	"github.com/steeveross-eng/huntiq-sync/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync agent",
	Long: `Start the sync agent: the caching gateway for foreground contexts, the
background worker, and the reconciliation scheduler.

The agent requires a configuration file (--config) that specifies the
upstream API origin, the cache generation and static asset manifest, the
network-first API route allow-list, and all other operational settings.

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8090", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := viper.GetString("address")
	logger.Infof("Starting HuntIQ sync agent on %s", address)

	configPath := viper.GetString("config")
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Infof("Loaded configuration from %s (upstream: %s, generation: %s)",
		configPath, cfg.Upstream.BaseURL, cfg.Cache.Generation)

	// Initialize telemetry
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Failed to shut down telemetry: %v", err)
		}
	}()

	syncMetrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	cacheMetrics, err := telemetry.NewCacheMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create cache metrics: %w", err)
	}

	// Open the durable outbox store
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open durable store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Errorf("Failed to close durable store: %v", closeErr)
		}
	}()

	// Upstream API client
	clientOpts := []upstream.Option{
		upstream.WithLocationsPath(cfg.Upstream.LocationsPath),
	}
	if timeout := cfg.Upstream.RequestTimeout(); timeout > 0 {
		clientOpts = append(clientOpts, upstream.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	client, err := upstream.NewClient(cfg.Upstream.BaseURL, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	// Cache manager for the configured generation
	manager, err := cache.NewManager(st, client, cfg.Cache.Generation, cfg.Cache.StaticAssets,
		cache.WithMetrics(cacheMetrics))
	if err != nil {
		return fmt.Errorf("failed to create cache manager: %w", err)
	}

	// Cross-context message bus and notification pipeline
	messageBus := bus.New()
	defer messageBus.Close()

	pipeline, err := notify.NewPipeline(notify.NewLogPresenter(), notify.NewLogContextRegistry())
	if err != nil {
		return fmt.Errorf("failed to create notification pipeline: %w", err)
	}

	// Background reconciliation scheduler
	scheduler, err := outbox.New(st, client, pipeline, messageBus, cfg.Sync.PollInterval(),
		outbox.WithMetrics(syncMetrics),
		outbox.WithMaxAttempts(cfg.Sync.MaxAttempts))
	if err != nil {
		return fmt.Errorf("failed to create reconciliation scheduler: %w", err)
	}

	// Background worker
	bw, err := worker.New(messageBus, st, client, manager, scheduler, pipeline,
		cfg.Tracking.SampleInterval())
	if err != nil {
		return fmt.Errorf("failed to create background worker: %w", err)
	}

	// HTTP gateway
	handler := router.NewServer(manager, messageBus, st, client.BaseURL(), cfg.Cache.APIRoutes,
		router.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			router.LoggingMiddleware,
		),
		router.WithMetricsHandler(tel.MetricsHandler()),
	)

	server := &http.Server{
		Addr:        address,
		Handler:     handler,
		ReadTimeout: serverReadTimeout,
		IdleTimeout: serverIdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return bw.Run(groupCtx)
	})
	group.Go(func() error {
		return scheduler.Start(groupCtx)
	})
	group.Go(func() error {
		logger.Infof("Gateway listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down gateway...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway forced to shut down: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("Agent shutdown complete")
	return nil
}
