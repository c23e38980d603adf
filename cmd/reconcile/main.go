package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/service/ledger"
	"github.com/ultramarket/orderflow/internal/service/order"
	"github.com/ultramarket/orderflow/internal/service/reservation"
	"github.com/ultramarket/orderflow/internal/service/settlement"
	"github.com/ultramarket/orderflow/internal/storage/postgres"
)

const defaultListLimit = 50

// reconcile — обработка припаркованных платёжных событий: просмотр
// очереди ручной сверки и повторное применение событий после починки
// причины сбоя. Работает напрямую с базой, поэтому требует postgres.
func main() {
	var (
		dsn     string
		list    bool
		all     bool
		gateway string
		eventID string
		limit   int
	)

	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: ORDERFLOW_POSTGRES_DSN)")
	flag.BoolVar(&list, "list", false, "list parked payment events")
	flag.BoolVar(&all, "all", false, "reprocess all parked events")
	flag.StringVar(&gateway, "gateway", "", "gateway of the event to reprocess")
	flag.StringVar(&eventID, "event", "", "event_id to reprocess")
	flag.IntVar(&limit, "limit", defaultListLimit, "max events to list/reprocess")
	flag.Parse()

	_ = godotenv.Load()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "reconcile")

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("ORDERFLOW_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("ORDERFLOW_POSTGRES_DSN (or -dsn) is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	coordinator := buildCoordinator(store, logger)

	switch {
	case list:
		listParked(coordinator, limit)
	case all:
		reprocessAll(coordinator, limit)
	case gateway != "" && eventID != "":
		if err := coordinator.Reprocess(gateway, eventID); err != nil {
			fail("reprocess %s/%s failed: %v", gateway, eventID, err)
		}
		fmt.Printf("reprocessed %s/%s\n", gateway, eventID)
	default:
		fail("specify -list, -all, or -gateway with -event")
	}
}

// buildCoordinator собирает тот же settlement-стек, что и сервис:
// reprocess обязан проходить через обычные переходы заказа.
func buildCoordinator(store *postgres.Store, logger *log.Entry) *settlement.Coordinator {
	stocks := postgres.NewStockRepository(store)
	reservations := postgres.NewReservationRepository(store)
	stockLedger := ledger.NewWithoutMetrics(stocks, reservations, logger.WithField("layer", "ledger"))
	manager := reservation.NewManager(stockLedger, reservations, logger.WithField("layer", "reservation"))

	orderSvc := order.NewWithoutMetrics(
		postgres.NewOrderRepository(store),
		manager,
		postgres.NewOutboxRepository(store),
		postgres.NewTimelineRepository(store),
		logger.WithField("layer", "order"),
	)

	secrets := settlement.GatewaySecrets{
		settlement.GatewayClick:  os.Getenv("ORDERFLOW_CLICK_SECRET"),
		settlement.GatewayPayme:  os.Getenv("ORDERFLOW_PAYME_SECRET"),
		settlement.GatewayUzcard: os.Getenv("ORDERFLOW_UZCARD_SECRET"),
		settlement.GatewayHumo:   os.Getenv("ORDERFLOW_HUMO_SECRET"),
	}

	return settlement.NewCoordinatorWithoutMetrics(
		postgres.NewPaymentEventRepository(store),
		orderSvc,
		settlement.DefaultGateways(secrets),
		logger.WithField("layer", "settlement"),
	)
}

func listParked(coordinator *settlement.Coordinator, limit int) {
	events, err := coordinator.ListParked(limit)
	if err != nil {
		fail("list parked events: %v", err)
	}
	if len(events) == 0 {
		fmt.Println("no parked events")
		return
	}
	for _, event := range events {
		fmt.Printf("%s\t%s\torder=%s\toutcome=%s\tamount=%d\tcreated=%s\n",
			event.Gateway, event.EventID, event.OrderID, event.Outcome,
			event.AmountMinor, event.CreatedAt.Format(time.RFC3339))
	}
}

func reprocessAll(coordinator *settlement.Coordinator, limit int) {
	events, err := coordinator.ListParked(limit)
	if err != nil {
		fail("list parked events: %v", err)
	}

	var failed int
	for _, event := range events {
		if err := coordinator.Reprocess(event.Gateway, event.EventID); err != nil {
			fmt.Fprintf(os.Stderr, "reprocess %s/%s failed: %v\n", event.Gateway, event.EventID, err)
			failed++
			continue
		}
		fmt.Printf("reprocessed %s/%s\n", event.Gateway, event.EventID)
	}

	fmt.Printf("done: total=%d failed=%d\n", len(events), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
