package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/orenda/api/leadflow-engine/internal/config"
	"gitlab.com/orenda/api/leadflow-engine/internal/dispatch"
	"gitlab.com/orenda/api/leadflow-engine/internal/healthcheck"
	"gitlab.com/orenda/api/leadflow-engine/internal/httpapi"
	"gitlab.com/orenda/api/leadflow-engine/internal/jetstream"
	"gitlab.com/orenda/api/leadflow-engine/internal/notifier"
	"gitlab.com/orenda/api/leadflow-engine/internal/observer"
	"gitlab.com/orenda/api/leadflow-engine/internal/session"
	"gitlab.com/orenda/api/leadflow-engine/internal/storage"
	"gitlab.com/orenda/api/leadflow-engine/internal/usecase"
	"gitlab.com/orenda/api/leadflow-engine/pkg/logger"
	"gitlab.com/orenda/api/leadflow-engine/pkg/utils"
)

// newClientFactory returns the constructor for tenant messaging clients. The
// provider adapter is linked in by the deployment; the default build refuses
// handshakes with a clear error instead of pretending to connect.
func newClientFactory() session.ClientFactory {
	return func(tenantID string) (session.Client, error) {
		return nil, fmt.Errorf("no messaging provider adapter configured for tenant %s", tenantID)
	}
}

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Leadflow Engine",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client and the event notifier on top of it
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	sink := notifier.NewNATSNotifier(jsClient, cfg.NATS.NotifySubject)
	if err := sink.SetupStream(context.Background(), cfg.NATS.NotifyStream, cfg.NATS.MaxAgeDays); err != nil {
		logger.Log.Fatal("Failed to set up notify stream", zap.Error(err))
	}

	// Session registry owns every tenant's client handle
	registry := session.NewRegistry(newClientFactory(), sink, cfg.Session, logger.Log)

	// Engagement service and its tick worker pool
	dispatcher := dispatch.NewDispatcher(registry)
	service := usecase.NewEngagementService(
		postgresRepo,
		postgresRepo,
		dispatcher,
		sink,
		usecase.EngagementDefaults{
			BatchSize:    cfg.Scheduler.DefaultBatchSize,
			MessageDelay: cfg.Scheduler.DefaultMessageDelay,
		},
	)

	tickWorker, err := usecase.NewTickWorker(cfg.WorkerPools.Scheduler, service, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize tick worker pool", zap.Error(err))
	}

	orchestrator := usecase.NewOrchestrator(postgresRepo, tickWorker, registry, cfg.Scheduler.TickInterval)

	// HTTP server: health, readiness, metrics plus the trigger API
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	handlers := httpapi.NewHandlers(registry, service, tickWorker, logger.Log)
	handlers.Register(healthServer.RegisterHandler)

	healthServer.Start()
	logger.Log.Info("HTTP endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	orchestrator.Start(mainCtx)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(4)

	// Stop the orchestrator loop and the tick pool behind it
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping scheduler orchestrator")
		start := time.Now()
		orchestrator.Stop()
		tickWorker.Stop()
		logger.Log.Info("[shutdown] Scheduler orchestrator stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping scheduler orchestrator",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Drop every tenant session; in-flight sends finish first
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing session registry")
		start := time.Now()
		registry.Close()
		logger.Log.Info("[shutdown] Session registry closed",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing session registry",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown HTTP server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping HTTP server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] HTTP server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping HTTP server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and JetStream connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Leadflow Engine shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
