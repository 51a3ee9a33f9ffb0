package engine

import (
	"context"
	"fmt"

	"github.com/cmatc13/stathera/pkg/service"
)

// BatchEngineService wraps a BatchEngine as a Service: on start it restores
// the spot/perp trees from the most recent persisted snapshot, so a restart
// resumes from the last finalized batch instead of an empty tree.
type BatchEngineService struct {
	engine *BatchEngine
	status service.Status
}

// NewBatchEngineService creates a new batch engine service.
func NewBatchEngineService(eng *BatchEngine) *BatchEngineService {
	return &BatchEngineService{
		engine: eng,
		status: service.StatusStopped,
	}
}

// Name returns the service name
func (s *BatchEngineService) Name() string {
	return "batch-engine"
}

// Start initializes and starts the service
func (s *BatchEngineService) Start(ctx context.Context) error {
	s.status = service.StatusStarting

	if err := s.engine.LoadFromSnapshots(); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("batch-engine: failed to restore state: %w", err)
	}

	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts down the service
func (s *BatchEngineService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping

	if err := s.engine.FinalizeBatch(); err != nil {
		s.status = service.StatusError
		return fmt.Errorf("batch-engine: failed to finalize on shutdown: %w", err)
	}

	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *BatchEngineService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *BatchEngineService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *BatchEngineService) Dependencies() []string {
	return []string{}
}

// Engine exposes the underlying engine for wiring into other services
// (the control-plane API, the ingest adapter).
func (s *BatchEngineService) Engine() *BatchEngine {
	return s.engine
}
