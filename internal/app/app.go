package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/cache"
	healthcheck "github.com/ultramarket/orderflow/internal/health"
	"github.com/ultramarket/orderflow/internal/httpapi"
	"github.com/ultramarket/orderflow/internal/messaging/kafka"
	"github.com/ultramarket/orderflow/internal/service/ledger"
	"github.com/ultramarket/orderflow/internal/service/order"
	"github.com/ultramarket/orderflow/internal/service/outbox"
	"github.com/ultramarket/orderflow/internal/service/reservation"
	"github.com/ultramarket/orderflow/internal/service/settlement"
	"github.com/ultramarket/orderflow/internal/version"
)

// Run собирает все компоненты и блокируется до отмены контекста
// либо падения HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	stockLedger := ledger.New(deps.Stock, deps.Reservations, logger.WithField("layer", "ledger"))

	manager := reservation.NewManager(stockLedger, deps.Reservations, logger.WithField("layer", "reservation"))
	manager.SetTTL(cfg.ReservationTTL)

	sweeper := reservation.NewSweeper(stockLedger, deps.Reservations,
		reservation.WithLogger(logger.WithField("layer", "sweeper")),
		reservation.WithInterval(cfg.SweepInterval),
		reservation.WithBatchSize(cfg.SweepBatchSize),
	)

	orderSvc := order.New(deps.Orders, manager, deps.OutboxRepo, deps.TimelineRepo,
		logger.WithField("layer", "order"))

	gateways := settlement.DefaultGateways(cfg.GatewaySecrets)
	if len(gateways) == 0 {
		logger.Warn("no payment gateway secrets configured, webhooks will be rejected")
	}
	coordinator := settlement.NewCoordinator(deps.PaymentEvents, orderSvc, gateways,
		logger.WithField("layer", "settlement"))

	// Инициализация Kafka (опционально)
	var (
		kafkaProducer *kafka.Producer
		outboxWorker  *outbox.Worker
		consumer      *kafka.Consumer
	)

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			kafkaProducer = producer
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

			publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
			dlqPublisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
			outboxWorker = outbox.NewWorker(deps.OutboxRepo, publisher,
				outbox.WithLogger(logger.WithField("layer", "outbox")),
				outbox.WithDLQPublisher(dlqPublisher),
				outbox.WithPollInterval(cfg.OutboxPollInterval),
				outbox.WithBatchSize(cfg.OutboxBatchSize),
				outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
				outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			)

			shippingHandler := kafka.NewShippingHandler(orderSvc, logger.WithField("layer", "shipping"))
			c, err := kafka.NewConsumerWithDLQ(cfg.KafkaBrokers, "orderflow-shipping",
				[]string{kafka.TopicShippingEvents}, shippingHandler, kafkaProducer, 3)
			if err != nil {
				logger.WithError(err).Warn("failed to create shipping consumer, continuing without it")
			} else {
				consumer = c
			}
		}
	}

	// Redis-кэш статусов (опционально)
	var statusCache *cache.StatusCache
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = cache.New(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		statusCache = cache.NewStatusCache(rdb, logger.WithField("layer", "cache"))
		logger.WithField("addr", cfg.RedisAddr).Info("redis status cache initialized")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.Store != nil {
		healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.Store.Ping(checkCtx)
		}))
	}
	if rdb != nil {
		healthHandler.RegisterChecker("cache", healthcheck.NewSimpleChecker("cache", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(checkCtx).Err()
		}))
	}

	apiHandler := httpapi.NewHandler(orderSvc, coordinator, statusCache, logger.WithField("layer", "http"))
	router := httpapi.NewRouter(apiHandler, healthHandler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	go sweeper.Run(workerCtx)
	if outboxWorker != nil {
		go outboxWorker.Run(workerCtx)
	}
	if consumer != nil {
		go func() {
			if err := consumer.Start(workerCtx); err != nil {
				logger.WithError(err).Warn("shipping consumer stopped with error")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	shutdown := func() {
		cancelWorkers()
		shutdownHTTP(srv, logger)
		if consumer != nil {
			if err := consumer.Stop(); err != nil {
				logger.WithError(err).Warn("failed to stop shipping consumer")
			}
		}
		if kafkaProducer != nil {
			if err := kafkaProducer.Close(); err != nil {
				logger.WithError(err).Warn("failed to close kafka producer")
			} else {
				logger.Info("kafka producer closed")
			}
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
