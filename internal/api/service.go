// internal/api/service.go
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/cmatc13/stathera/internal/engine"
	"github.com/cmatc13/stathera/internal/ledger"
	"github.com/cmatc13/stathera/pkg/config"
	"github.com/cmatc13/stathera/pkg/health"
	"github.com/cmatc13/stathera/pkg/logging"
	"github.com/cmatc13/stathera/pkg/metrics"
	"github.com/cmatc13/stathera/pkg/service"
)

// APIService wraps the Batch Engine control-plane API server as a Service.
type APIService struct {
	server           *Server
	config           *config.Config
	engine           *engine.BatchEngine
	insurance        *ledger.InsuranceFund
	status           service.Status
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewAPIService creates a new API service fronting the given BatchEngine and
// its insurance fund.
func NewAPIService(cfg *config.Config, eng *engine.BatchEngine, insurance *ledger.InsuranceFund) *APIService {
	logCfg := logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      logging.DefaultConfig().Output,
		ServiceName: "api-service",
		Environment: cfg.Log.Environment,
	}
	logger := logging.New(logCfg)

	metricsCfg := metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		Subsystem:   "api",
		ServiceName: "api-service",
	}
	metricsCollector := metrics.New(metricsCfg)

	healthRegistry := health.NewRegistry(logger)

	return &APIService{
		config:           cfg,
		engine:           eng,
		insurance:        insurance,
		status:           service.StatusStopped,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
	}
}

// Name returns the service name
func (s *APIService) Name() string {
	return "api"
}

// Start initializes and starts the service
func (s *APIService) Start(ctx context.Context) error {
	s.status = service.StatusStarting
	s.logger.Info("Starting API service")

	s.server = NewServer(s.config, s.engine, s.insurance)
	go s.server.Start()

	s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))

	uptimeDone := make(chan struct{})
	s.metricsCollector.RecordUptime(uptimeDone)

	s.status = service.StatusRunning
	s.logger.Info("API service started successfully")
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping
	s.logger.Info("Stopping API service")

	if s.server != nil {
		s.server.Shutdown(ctx)
	}

	s.status = service.StatusStopped
	s.logger.Info("API service stopped successfully")
	return nil
}

// Status returns the current service status
func (s *APIService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *APIService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}

	if s.server == nil {
		return fmt.Errorf("server not initialized")
	}

	return nil
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{"batch-engine"}
}

// GetMetrics returns the metrics collector for this service
func (s *APIService) GetMetrics() *metrics.Metrics {
	return s.metricsCollector
}

// GetHealthRegistry returns the health registry for this service
func (s *APIService) GetHealthRegistry() *health.Registry {
	return s.healthRegistry
}
