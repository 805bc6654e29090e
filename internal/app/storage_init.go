package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — хранилище, выбранное драйвером.
type runtimeDependencies struct {
	store           domain.Storage
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		if cfg.DemoCatalog {
			seedDemoCatalog(store)
			logger.Info("memory storage seeded with demo catalog")
		}
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: store.Idempotency(),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:           store,
			outboxRepo:      store.Outbox(),
			idempotencyRepo: store.Idempotency(),
			storageChecker:  healthcheck.NewPingChecker("postgres", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Демо-пользователь и адрес для memory-режима.
const (
	demoUserID    = "demo-user"
	demoAddressID = "demo-address"
)

func seedDemoCatalog(store *memory.Store) {
	products := []domain.Product{
		{ID: "prod-tea", Name: "Assam Tea 500g", Price: decimal.RequireFromString("349.00"), StockQuantity: 100, IsActive: true},
		{ID: "prod-mug", Name: "Stoneware Mug", Price: decimal.RequireFromString("1999.00"), StockQuantity: 20, IsActive: true},
		{ID: "prod-kettle", Name: "Copper Kettle", Price: decimal.RequireFromString("4599.50"), StockQuantity: 5, IsActive: true},
	}
	for _, product := range products {
		store.PutProduct(product)
	}
	store.AddAddress(demoUserID, demoAddressID)
}
