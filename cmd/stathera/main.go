// Package main provides the main entry point for the Stathera batch engine.
// It initializes and coordinates the Batch Engine, the Kafka ingest loop, and
// the control-plane API using the service registry pattern.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/cmatc13/stathera/internal/api"
	"github.com/cmatc13/stathera/internal/engine"
	"github.com/cmatc13/stathera/internal/ingest"
	"github.com/cmatc13/stathera/internal/ledger"
	"github.com/cmatc13/stathera/internal/persistence"
	"github.com/cmatc13/stathera/internal/timeoracle"
	"github.com/cmatc13/stathera/pkg/config"
	"github.com/cmatc13/stathera/pkg/health"
	"github.com/cmatc13/stathera/pkg/logging"
	"github.com/cmatc13/stathera/pkg/metrics"
	"github.com/cmatc13/stathera/pkg/service"
)

// main is the entry point for the Stathera batch engine.
func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	opts := config.DefaultLoadOptions()
	if *configFile != "" {
		opts.ConfigFile = *configFile
	}

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logCfg := logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: cfg.Log.ServiceName,
		Environment: cfg.Log.Environment,
	}
	logger := logging.New(logCfg)

	metricsCfg := metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		Subsystem:   "",
		ServiceName: cfg.Metrics.ServiceName,
	}
	metricsCollector := metrics.New(metricsCfg)

	healthRegistry := health.NewRegistry(logger)

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg, metricsCollector, logger)
	}
	if cfg.Health.Enabled {
		go startHealthServer(cfg, healthRegistry, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uptimeDone := make(chan struct{})
	metricsCollector.RecordUptime(uptimeDone)
	defer close(uptimeDone)

	stdLogger := log.New(os.Stdout, "[STATHERA] ", log.LstdFlags)
	registry := service.NewRegistry(stdLogger)

	logger.Info("Initializing services...")

	storage := persistence.NewMainStorage(afero.NewOsFs(), cfg.Batch.StorageRoot)
	storage.SetBundlePath(cfg.Batch.BundleOutputPath)
	batchEngine := engine.NewBatchEngine(storage)

	batchEngineService := engine.NewBatchEngineService(batchEngine)
	if err := registry.Register(batchEngineService); err != nil {
		logger.Error("Failed to register batch engine service", "error", err)
		os.Exit(1)
	}
	healthRegistry.Register("batch-engine", health.ServiceChecker("batch-engine", func(ctx context.Context) error {
		return batchEngineService.Health()
	}))

	adapter := &ingest.BatchAdapter{Engine: batchEngine}
	ingestor, err := ingest.NewIngestor(ctx, cfg, adapter, logger)
	if err != nil {
		logger.Error("Failed to initialize ingestor", "error", err)
		os.Exit(1)
	}
	ingestorService := ingest.NewIngestorService(ingestor, cfg.Kafka.MatchingResultsTopic)
	if err := registry.Register(ingestorService); err != nil {
		logger.Error("Failed to register ingest service", "error", err)
		os.Exit(1)
	}
	healthRegistry.Register("ingest", health.ServiceChecker("ingest", func(ctx context.Context) error {
		return ingestorService.Health()
	}))

	timeOracleSecret := sha256.Sum256([]byte(cfg.Auth.JWTSecret))
	timeOracle, err := timeoracle.NewStandardTimeOracle(timeOracleSecret[:], 5*time.Second, 24*time.Hour)
	if err != nil {
		logger.Error("Failed to initialize time oracle", "error", err)
		os.Exit(1)
	}
	insuranceFund, err := ledger.NewInsuranceFund(0, timeOracle)
	if err != nil {
		logger.Error("Failed to initialize insurance fund", "error", err)
		os.Exit(1)
	}

	apiService := api.NewAPIService(cfg, batchEngine, insuranceFund)
	if err := registry.Register(apiService); err != nil {
		logger.Error("Failed to register API service", "error", err)
		os.Exit(1)
	}
	healthRegistry.Register("api", health.ServiceChecker("api", func(ctx context.Context) error {
		return apiService.Health()
	}))

	healthRegistry.Register("redis", health.RedisChecker(cfg.Redis.Address, func(ctx context.Context) error {
		return nil
	}))
	healthRegistry.Register("kafka", health.KafkaChecker(cfg.Kafka.Brokers, func(ctx context.Context) error {
		return nil
	}))

	logger.Info("Starting all services...")
	if err := registry.StartAll(ctx); err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}
	logger.Info("All services started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("Shutting down gracefully...")
	cancel()

	if err := registry.StopAll(context.Background()); err != nil {
		logger.Error("Error during shutdown", "error", err)
	}

	logger.Info("Shutdown complete")
}

// startMetricsServer starts a server to expose Prometheus metrics
func startMetricsServer(cfg *config.Config, metricsCollector *metrics.Metrics, logger *logging.Logger) {
	addr := fmt.Sprintf(":%s", cfg.Metrics.Port)
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Endpoint, metricsCollector.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))

	logger.Info("Starting metrics server", "addr", addr, "endpoint", cfg.Metrics.Endpoint)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server failed", "error", err)
	}
}

// startHealthServer starts a server to expose health check endpoints
func startHealthServer(cfg *config.Config, healthRegistry *health.Registry, logger *logging.Logger) {
	addr := fmt.Sprintf(":%s", cfg.Health.Port)
	mux := http.NewServeMux()
	mux.Handle(cfg.Health.Endpoint, healthRegistry.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("Starting health check server", "addr", addr, "endpoint", cfg.Health.Endpoint)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health check server failed", "error", err)
	}
}
