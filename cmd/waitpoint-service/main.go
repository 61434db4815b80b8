// waitpoint-service is the HTTP API server for durable job-callback tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"waitpoint/internal/api"
	"waitpoint/internal/backend/docker"
	"waitpoint/internal/config"
	"waitpoint/internal/dispatcher"
	"waitpoint/internal/health"
	"waitpoint/internal/job"
	"waitpoint/internal/observability"
	"waitpoint/internal/poller"
	"waitpoint/internal/reaper"
	"waitpoint/internal/registrar"
	"waitpoint/internal/resume"
	"waitpoint/internal/store/memory"
	"waitpoint/internal/store/redis"
	"waitpoint/internal/token"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// stores bundles the two persistence views plus the readiness probe.
type stores struct {
	jobs   job.Store
	tokens token.Store
	ready  health.ReadinessChecker
	close  func() error
}

func openStores(cfg *config.ServiceConfig) (*stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := memory.New()
		return &stores{jobs: s, tokens: s.Tokens(), ready: s, close: func() error { return nil }}, nil
	case config.StoreRedis:
		s := redis.New(redis.LoadConfigFromEnv())
		return &stores{jobs: s, tokens: s.Tokens(), ready: s, close: s.Close}, nil
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}

func openBackend(cfg *config.ServiceConfig, jobs job.Store) (job.Backend, error) {
	switch cfg.JobBackend {
	case config.BackendSimulator:
		return job.NewSimulator(jobs, job.LoadSimulatorConfigFromEnv()), nil
	case config.BackendDocker:
		return docker.New(jobs)
	default:
		return nil, fmt.Errorf("unknown JOB_BACKEND %q", cfg.JobBackend)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	if svcCfg.ResumeCallbackURL == "" {
		return errors.New("RESUME_CALLBACK_URL is required")
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create resume dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Open stores and job backend
	st, err := openStores(svcCfg)
	if err != nil {
		return err
	}
	defer st.close()

	backend, err := openBackend(svcCfg, st.jobs)
	if err != nil {
		return err
	}
	slog.Info("Backend configured", "store", svcCfg.Store, "backend", svcCfg.JobBackend)

	// Wire the state machine
	notifier := resume.NewWebhookNotifier(eventDispatcher, svcCfg.ResumeCallbackURL, svcCfg.ResumeSigningKey)
	pollerSvc := poller.New(backend, st.tokens, notifier, metrics)
	registrarSvc := registrar.NewService(backend, st.tokens, metrics)

	// Optional timeout reaper
	tokenReaper := reaper.New(st.tokens, pollerSvc, svcCfg.ReaperInterval)
	tokenReaper.Start()
	defer tokenReaper.Stop()

	// Create health checker
	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"store":   st.ready,
		"backend": backend,
	})

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Registrar:     registrarSvc,
		Poller:        pollerSvc,
		Tokens:        st.tokens,
		Jobs:          st.jobs,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain resume dispatcher so committed transitions still notify
	slog.Info("Draining resume dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
