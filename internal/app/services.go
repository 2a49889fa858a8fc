package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/config"
	"github.com/dokzlo13/borrowd/internal/db"
	"github.com/dokzlo13/borrowd/internal/metrics"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Audit    *audit.Ledger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// High-level services
	Portal    *PortalService
	Notify    *NotifyService
	API       *APIService
	Health    *HealthService
	Retention *RetentionService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize audit ledger
	s.Audit = audit.New(database.DB)

	// Initialize metrics on a private registry
	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)

	// Initialize portal service
	s.Portal, err = NewPortalService(cfg, s.Audit, s.Metrics)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize notification sinks
	s.Notify = NewNotifyService(cfg, s.Portal.Bus)

	// Initialize API service
	s.API = NewAPIService(cfg, s.Portal.Orchestrator, s.Notify.Events())

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Registry, s.Portal.Ready)

	// Initialize retention loop
	s.Retention = NewRetentionService(cfg, s.Audit)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Sinks first so the initial refresh is delivered
	if err := s.Notify.Start(ctx); err != nil {
		return err
	}

	// Establish the portal session and load the initial view
	if err := s.Portal.Start(ctx); err != nil {
		return err
	}

	// Start all background services
	s.Portal.StartBackground(ctx)
	s.Retention.Start(ctx)
	s.Health.Start(ctx)
	s.API.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Portal != nil {
		s.Portal.Close()
	}
	if s.Notify != nil {
		s.Notify.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
