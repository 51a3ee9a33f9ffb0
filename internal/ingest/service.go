package ingest

import (
	"context"
	"fmt"

	"github.com/cmatc13/stathera/pkg/service"
)

// IngestorService wraps an Ingestor as a Service so the registry can start
// and stop it alongside the Batch Engine and control-plane API.
type IngestorService struct {
	ingestor *Ingestor
	topic    string
	status   service.Status
}

// NewIngestorService creates a new ingest service consuming the given topic.
func NewIngestorService(ingestor *Ingestor, topic string) *IngestorService {
	return &IngestorService{
		ingestor: ingestor,
		topic:    topic,
		status:   service.StatusStopped,
	}
}

// Name returns the service name
func (s *IngestorService) Name() string {
	return "ingest"
}

// Start initializes and starts the service
func (s *IngestorService) Start(ctx context.Context) error {
	s.status = service.StatusStarting
	go s.ingestor.Start(s.topic)
	s.status = service.StatusRunning
	return nil
}

// Stop gracefully shuts down the service
func (s *IngestorService) Stop(ctx context.Context) error {
	s.status = service.StatusStopping
	// The ingestor stops via its own context cancellation, owned by main.
	s.status = service.StatusStopped
	return nil
}

// Status returns the current service status
func (s *IngestorService) Status() service.Status {
	return s.status
}

// Health performs a health check
func (s *IngestorService) Health() error {
	if s.status != service.StatusRunning {
		return fmt.Errorf("service not running")
	}
	return nil
}

// Dependencies returns a list of services this service depends on
func (s *IngestorService) Dependencies() []string {
	return []string{"batch-engine"}
}
