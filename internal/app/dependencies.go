package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/storage/memory"
	"github.com/ultramarket/orderflow/internal/storage/postgres"
)

// Dependencies содержит хранилища, от которых строится сервисный слой.
type Dependencies struct {
	Orders        domain.OrderRepository
	Stock         domain.StockRepository
	Reservations  domain.ReservationRepository
	PaymentEvents domain.PaymentEventRepository
	OutboxRepo    domain.OutboxRepository
	TimelineRepo  domain.TimelineRepository

	// Store не nil только при StorageDriverPostgres; нужен для
	// health-check и закрытия соединения.
	Store *postgres.Store

	Logger *log.Entry
}

// NewDependencies инициализирует хранилища согласно конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	case StorageDriverMemory, "":
		return newMemoryDependencies(logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func newMemoryDependencies(logger *log.Entry) *Dependencies {
	logger.Info("using in-memory storage")
	return &Dependencies{
		Orders:        memory.NewOrderRepository(),
		Stock:         memory.NewStockRepository(),
		Reservations:  memory.NewReservationRepository(),
		PaymentEvents: memory.NewPaymentEventRepository(),
		OutboxRepo:    memory.NewOutboxRepository(),
		TimelineRepo:  memory.NewTimelineRepository(),
		Logger:        logger,
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage requires ORDERFLOW_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	logger.Info("using postgres storage")
	return &Dependencies{
		Orders:        postgres.NewOrderRepository(store),
		Stock:         postgres.NewStockRepository(store),
		Reservations:  postgres.NewReservationRepository(store),
		PaymentEvents: postgres.NewPaymentEventRepository(store),
		OutboxRepo:    postgres.NewOutboxRepository(store),
		TimelineRepo:  postgres.NewTimelineRepository(store),
		Store:         store,
		Logger:        logger,
	}, nil
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() error {
	if d == nil || d.Store == nil {
		return nil
	}
	return d.Store.Close()
}
