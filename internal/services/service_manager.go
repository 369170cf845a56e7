package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/repositories"
	"github.com/SAP-F-2025/grading-service/internal/validator"
)

type serviceManager struct {
	scheme  SchemeService
	grading GradingService
	export  ExportService

	repo   repositories.Repository
	bus    *events.Bus
	logger *slog.Logger
}

// NewServiceManager wires all services over one repository, cache client and
// event bus. A nil redis client disables caching, nothing else.
func NewServiceManager(repo repositories.Repository, redisClient *redis.Client, bus *events.Bus, logger *slog.Logger, exportConfig ExportConfig) ServiceManager {
	base := validator.New()
	schemeValidator := validator.NewSchemeValidator(base)
	schemeCache := cache.NewSchemeCache(redisClient, logger)

	return &serviceManager{
		scheme:  NewSchemeService(repo, logger, schemeValidator, schemeCache, bus),
		grading: NewGradingService(repo, logger, schemeValidator, base, bus),
		export:  NewExportService(repo, logger, base, bus, exportConfig),
		repo:    repo,
		bus:     bus,
		logger:  logger,
	}
}

func (m *serviceManager) Scheme() SchemeService   { return m.scheme }
func (m *serviceManager) Grading() GradingService { return m.grading }
func (m *serviceManager) Export() ExportService   { return m.export }

// Initialize starts background consumers. Called once after construction.
func (m *serviceManager) Initialize(ctx context.Context) error {
	if err := m.export.Start(ctx); err != nil {
		return fmt.Errorf("failed to start export workers: %w", err)
	}
	m.logger.Info("services initialized")
	return nil
}

func (m *serviceManager) HealthCheck(ctx context.Context) error {
	if err := m.repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (m *serviceManager) Shutdown(ctx context.Context) error {
	if err := m.export.Shutdown(ctx); err != nil {
		m.logger.Warn("export worker shutdown failed", "error", err)
	}
	if err := m.bus.Close(); err != nil {
		m.logger.Warn("event bus close failed", "error", err)
	}
	if err := m.repo.Close(); err != nil {
		return fmt.Errorf("failed to close repository: %w", err)
	}
	m.logger.Info("services shut down")
	return nil
}
