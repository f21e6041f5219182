package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miles-spidee/exoml/internal/config"
	"github.com/miles-spidee/exoml/internal/domain"
	"github.com/miles-spidee/exoml/internal/handler"
	"github.com/miles-spidee/exoml/internal/infra/cache"
	"github.com/miles-spidee/exoml/internal/infra/client"
	"github.com/miles-spidee/exoml/internal/infra/diagnostics"
	"github.com/miles-spidee/exoml/internal/infra/observability"
	"github.com/miles-spidee/exoml/internal/infra/resilience"
	"github.com/miles-spidee/exoml/internal/service"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// --- Logger ---
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("upstream", cfg.UpstreamPredictURL()),
		zap.Strings("probe_urls", cfg.ProbeURLs()),
		zap.Duration("upstream_timeout", cfg.UpstreamTimeout),
		zap.Duration("probe_timeout", cfg.ProbeTimeout),
		zap.Duration("probe_cache_ttl", cfg.ProbeCacheTTL),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Bool("breaker_enabled", cfg.BreakerEnabled),
		zap.String("diagnostics_dir", cfg.DiagnosticsDir),
		zap.Bool("expose_debug_paths", cfg.ExposeDebugPaths),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	healthCache := cache.New[*domain.BackendHealth](cfg.ProbeCacheTTL)
	defer healthCache.Close()

	// --- Resilience ---
	var cb *gobreaker.CircuitBreaker
	if cfg.BreakerEnabled {
		cb = resilience.NewCircuitBreaker("model-server", resilience.DefaultBreakerSettings(), logger)
	}
	bulkhead := resilience.NewBulkhead(cfg.MaxConcurrency)
	metrics.TrackUpstreamInFlight(bulkhead.InFlight)

	// --- Clients ---
	// Timeouts are applied per call through contexts.
	httpClient := &http.Client{}

	upstream := client.NewUpstreamClient(httpClient, cfg.UpstreamPredictURL(), cb, bulkhead, client.UpstreamConfig{
		Timeout:      cfg.UpstreamTimeout,
		MaxBodyBytes: cfg.MaxUpstreamBytes,
	})
	prober := client.NewProber(httpClient, cfg.ProbeTimeout)
	sink := diagnostics.NewFileSink(cfg.DiagnosticsDir, cfg.DiagnosticsPerRequest, metrics, logger)

	// --- Services ---
	predictor := service.NewPredictor(upstream, sink, metrics, logger, cfg.UpstreamAddr())
	health := service.NewBackendHealthService(prober, healthCache, cfg.ProbeURLs(), metrics, logger)

	// --- Router ---
	router := handler.NewRouter(predictor, health, metrics, handler.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxRequestBytes:    cfg.MaxRequestBytes,
		ExposeDebugPaths:   cfg.ExposeDebugPaths,
	}, logger)

	// --- Server ---
	// WriteTimeout must outlast the upstream call.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	case <-quit:
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}
