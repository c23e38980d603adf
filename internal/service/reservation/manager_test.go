package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/service/ledger"
	"github.com/ultramarket/orderflow/internal/storage/memory"
)

func newTestManager(t *testing.T) (*Manager, *ledger.Ledger, domain.StockRepository, domain.ReservationRepository) {
	t.Helper()
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	led := ledger.NewWithoutMetrics(stocks, reservations, nil)
	return NewManager(led, reservations, nil), led, stocks, reservations
}

func seedStock(t *testing.T, stocks domain.StockRepository, sku string, available int64) {
	t.Helper()
	if err := stocks.Create(domain.StockRecord{SKU: sku, Available: available}); err != nil {
		t.Fatalf("seed stock %s: %v", sku, err)
	}
}

func TestManagerReserveCart(t *testing.T) {
	m, _, stocks, _ := newTestManager(t)
	seedStock(t, stocks, "SKU-A", 5)
	seedStock(t, stocks, "SKU-B", 3)

	snapshot := domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines: []domain.CartLine{
			{SKU: "SKU-A", Qty: 2, PriceMinor: 100000},
			{SKU: "SKU-B", Qty: 1, PriceMinor: 250000},
		},
		TakenAt: time.Now().UTC(),
	}

	created, err := m.ReserveCart("order-1", snapshot)
	if err != nil {
		t.Fatalf("reserve cart: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(created))
	}
	for _, res := range created {
		if res.Status != domain.ReservationStatusActive {
			t.Errorf("reservation %s not active: %s", res.ID, res.Status)
		}
	}

	a, _ := stocks.Get("SKU-A")
	b, _ := stocks.Get("SKU-B")
	if a.Available != 3 || a.Reserved != 2 {
		t.Errorf("SKU-A: available=%d reserved=%d", a.Available, a.Reserved)
	}
	if b.Available != 2 || b.Reserved != 1 {
		t.Errorf("SKU-B: available=%d reserved=%d", b.Available, b.Reserved)
	}
}

func TestManagerReserveCartRollsBackOnShortage(t *testing.T) {
	m, _, stocks, reservations := newTestManager(t)
	seedStock(t, stocks, "SKU-A", 2)
	seedStock(t, stocks, "SKU-B", 0)

	snapshot := domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines: []domain.CartLine{
			{SKU: "SKU-A", Qty: 1, PriceMinor: 100000},
			{SKU: "SKU-B", Qty: 1, PriceMinor: 250000},
		},
		TakenAt: time.Now().UTC(),
	}

	_, err := m.ReserveCart("order-1", snapshot)
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	var oos *domain.OutOfStockError
	if !errors.As(err, &oos) {
		t.Fatal("expected OutOfStockError with sku list")
	}
	if len(oos.SKUs) != 1 || oos.SKUs[0] != "SKU-B" {
		t.Errorf("expected failing sku SKU-B, got %v", oos.SKUs)
	}

	// Удержание по SKU-A должно быть компенсировано.
	a, _ := stocks.Get("SKU-A")
	if a.Available != 2 || a.Reserved != 0 {
		t.Errorf("SKU-A not rolled back: available=%d reserved=%d", a.Available, a.Reserved)
	}

	list, _ := reservations.ListByOrder("order-1")
	for _, res := range list {
		if res.Active() {
			t.Errorf("reservation %s left active after rollback", res.ID)
		}
	}
}

func TestManagerCommitOrder(t *testing.T) {
	m, _, stocks, reservations := newTestManager(t)
	seedStock(t, stocks, "SKU-A", 5)
	seedStock(t, stocks, "SKU-B", 5)

	snapshot := domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines: []domain.CartLine{
			{SKU: "SKU-A", Qty: 2, PriceMinor: 100000},
			{SKU: "SKU-B", Qty: 3, PriceMinor: 50000},
		},
		TakenAt: time.Now().UTC(),
	}
	if _, err := m.ReserveCart("order-1", snapshot); err != nil {
		t.Fatalf("reserve cart: %v", err)
	}

	if err := m.CommitOrder("order-1"); err != nil {
		t.Fatalf("commit order: %v", err)
	}

	a, _ := stocks.Get("SKU-A")
	b, _ := stocks.Get("SKU-B")
	if a.Available != 3 || a.Reserved != 0 {
		t.Errorf("SKU-A after commit: available=%d reserved=%d", a.Available, a.Reserved)
	}
	if b.Available != 2 || b.Reserved != 0 {
		t.Errorf("SKU-B after commit: available=%d reserved=%d", b.Available, b.Reserved)
	}

	list, _ := reservations.ListByOrder("order-1")
	for _, res := range list {
		if res.Status != domain.ReservationStatusCommitted {
			t.Errorf("reservation %s not committed: %s", res.ID, res.Status)
		}
	}

	// Повторный commit заказа — no-op.
	if err := m.CommitOrder("order-1"); err != nil {
		t.Fatalf("repeated commit order: %v", err)
	}
	a, _ = stocks.Get("SKU-A")
	if a.Available != 3 {
		t.Errorf("repeated commit mutated stock: available=%d", a.Available)
	}
}

func TestManagerReleaseOrder(t *testing.T) {
	m, _, stocks, _ := newTestManager(t)
	seedStock(t, stocks, "SKU-A", 5)

	snapshot := domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines:      []domain.CartLine{{SKU: "SKU-A", Qty: 2, PriceMinor: 100000}},
		TakenAt:    time.Now().UTC(),
	}
	if _, err := m.ReserveCart("order-1", snapshot); err != nil {
		t.Fatalf("reserve cart: %v", err)
	}

	if err := m.ReleaseOrder("order-1"); err != nil {
		t.Fatalf("release order: %v", err)
	}

	a, _ := stocks.Get("SKU-A")
	if a.Available != 5 || a.Reserved != 0 {
		t.Errorf("SKU-A after release: available=%d reserved=%d", a.Available, a.Reserved)
	}
}

func TestSweeperExpiresOverdueReservations(t *testing.T) {
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	led := ledger.NewWithoutMetrics(stocks, reservations, nil)
	m := NewManager(led, reservations, nil)
	m.SetTTL(15 * time.Minute)

	seedStock(t, stocks, "SKU-A", 5)

	snapshot := domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines:      []domain.CartLine{{SKU: "SKU-A", Qty: 2, PriceMinor: 100000}},
		TakenAt:    time.Now().UTC(),
	}
	created, err := m.ReserveCart("order-1", snapshot)
	if err != nil {
		t.Fatalf("reserve cart: %v", err)
	}

	sweeper := NewSweeper(led, reservations, WithBatchSize(10))

	// Через 10 минут резерв ещё жив: sweep ничего не снимает.
	expired, err := sweeper.SweepExpired(context.Background(), time.Now().UTC().Add(10*time.Minute))
	if err != nil {
		t.Fatalf("sweep at t+10m: %v", err)
	}
	if expired != 0 {
		t.Errorf("expected 0 expired at t+10m, got %d", expired)
	}

	// Через 16 минут TTL истёк: резерв снимается, сток возвращается.
	expired, err = sweeper.SweepExpired(context.Background(), time.Now().UTC().Add(16*time.Minute))
	if err != nil {
		t.Fatalf("sweep at t+16m: %v", err)
	}
	if expired != 1 {
		t.Errorf("expected 1 expired at t+16m, got %d", expired)
	}

	a, _ := stocks.Get("SKU-A")
	if a.Available != 5 || a.Reserved != 0 {
		t.Errorf("stock not returned: available=%d reserved=%d", a.Available, a.Reserved)
	}
	stored, _ := reservations.Get(created[0].ID)
	if stored.Status != domain.ReservationStatusExpired {
		t.Errorf("expected expired status, got %s", stored.Status)
	}
}

func TestSweeperLosesRaceToCommit(t *testing.T) {
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	led := ledger.NewWithoutMetrics(stocks, reservations, nil)

	seedStock(t, stocks, "SKU-A", 5)
	res, err := led.Reserve("order-1", "SKU-A", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Оплата успела до sweep: резерв закоммичен.
	if err := led.Commit(res.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sweeper := NewSweeper(led, reservations, WithBatchSize(10))
	expired, err := sweeper.SweepExpired(context.Background(), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 0 {
		t.Errorf("sweep must not expire committed reservation, got %d", expired)
	}

	a, _ := stocks.Get("SKU-A")
	if a.Available != 3 || a.Reserved != 0 {
		t.Errorf("commit result disturbed: available=%d reserved=%d", a.Available, a.Reserved)
	}
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	led := ledger.NewWithoutMetrics(stocks, reservations, nil)

	sweeper := NewSweeper(led, reservations, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}
