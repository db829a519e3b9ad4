package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// catalogStore — каталог вместе с журналом остатков; обе реализации хранилища дают их одним типом.
type catalogStore interface {
	domain.CatalogRepository
	domain.StockLedger
}

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	tx              domain.TxManager
	orders          domain.OrderRepository
	payments        domain.PaymentRepository
	catalog         catalogStore
	discounts       domain.DiscountRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies поднимает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		return initMemoryDependencies(cfg, logger), nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMemoryDependencies(cfg Config, logger *log.Entry) *runtimeDependencies {
	store := memory.NewStore()
	if cfg.SeedDemo {
		memory.SeedDemo(store, time.Now().UTC())
		logger.Info("memory storage seeded with demo catalog")
	}
	logger.WithField("driver", StorageDriverMemory).Info("storage initialized")

	return &runtimeDependencies{
		tx:              store,
		orders:          memory.NewOrderRepository(store),
		payments:        memory.NewPaymentRepository(store),
		catalog:         memory.NewCatalogRepository(store),
		discounts:       memory.NewDiscountRepository(store),
		outboxRepo:      memory.NewOutboxRepository(store),
		timelineRepo:    memory.NewTimelineRepository(store),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker: healthcheck.NewChecker("storage", func(context.Context) error {
			return nil
		}),
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, fmt.Errorf("%s is required for postgres storage", EnvPostgresDSN)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		state, err := store.MigrationStatus(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.WithFields(log.Fields{
			"schema_version": state.Version,
			"applied":        state.Applied,
		}).Info("postgres schema is up to date")
	}
	logger.WithField("driver", StorageDriverPostgres).Info("storage initialized")

	return &runtimeDependencies{
		tx:              store,
		orders:          postgres.NewOrderRepository(store),
		payments:        postgres.NewPaymentRepository(store),
		catalog:         postgres.NewCatalogRepository(store),
		discounts:       postgres.NewDiscountRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewChecker("storage", store.Ping),
		closeFn:         store.Close,
	}, nil
}

// close освобождает хранилище; для memory ничего не делает.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}
