package order

import (
	"errors"
	"testing"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/service/ledger"
	"github.com/ultramarket/orderflow/internal/service/reservation"
	"github.com/ultramarket/orderflow/internal/storage/memory"
)

type testEnv struct {
	service      *Service
	orders       domain.OrderRepository
	stocks       domain.StockRepository
	reservations domain.ReservationRepository
	outbox       domain.OutboxRepository
	timeline     domain.TimelineRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	orders := memory.NewOrderRepository()
	stocks := memory.NewStockRepository()
	reservations := memory.NewReservationRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	led := ledger.NewWithoutMetrics(stocks, reservations, nil)
	manager := reservation.NewManager(led, reservations, nil)

	return &testEnv{
		service:      NewWithoutMetrics(orders, manager, outbox, timeline, nil),
		orders:       orders,
		stocks:       stocks,
		reservations: reservations,
		outbox:       outbox,
		timeline:     timeline,
	}
}

func (e *testEnv) seedStock(t *testing.T, sku string, available int64) {
	t.Helper()
	if err := e.stocks.Create(domain.StockRecord{SKU: sku, Available: available}); err != nil {
		t.Fatalf("seed stock %s: %v", sku, err)
	}
}

func testSnapshot() domain.CartSnapshot {
	return domain.CartSnapshot{
		CustomerID: "cust-1",
		Currency:   "UZS",
		Lines: []domain.CartLine{
			{SKU: "SKU-A", Qty: 2, PriceMinor: 100000},
			{SKU: "SKU-B", Qty: 1, PriceMinor: 250000},
		},
		TakenAt: time.Now().UTC(),
	}
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Errorf("expected pending_payment, got %s", order.Status)
	}
	if order.AmountMinor != 450000 {
		t.Errorf("expected amount 450000, got %d", order.AmountMinor)
	}
	if len(order.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(order.Items))
	}

	list, err := env.reservations.ListByOrder(order.ID)
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 reservations, got %d", len(list))
	}

	stats, _ := env.outbox.Stats()
	if stats.PendingCount == 0 {
		t.Error("expected OrderCreated event in outbox")
	}
}

func TestCheckoutOutOfStock(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 2)
	env.seedStock(t, "SKU-B", 0)

	_, err := env.service.Checkout(testSnapshot())
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}

	// Заказ не создаётся, сток не удержан.
	a, _ := env.stocks.Get("SKU-A")
	if a.Reserved != 0 {
		t.Errorf("expected no holds after failed checkout, reserved=%d", a.Reserved)
	}
}

func TestConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if err := env.service.Confirm(order.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed, got %s", stored.Status)
	}
	if stored.PaymentRef != "pay-123" {
		t.Errorf("expected payment_ref pay-123, got %q", stored.PaymentRef)
	}

	// Резервы списаны окончательно.
	a, _ := env.stocks.Get("SKU-A")
	if a.Available != 3 || a.Reserved != 0 {
		t.Errorf("SKU-A after confirm: available=%d reserved=%d", a.Available, a.Reserved)
	}
}

func TestFailPaymentReleasesStock(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if err := env.service.FailPayment(order.ID, "card declined"); err != nil {
		t.Fatalf("fail payment: %v", err)
	}

	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusPaymentFailed {
		t.Errorf("expected payment_failed, got %s", stored.Status)
	}

	a, _ := env.stocks.Get("SKU-A")
	b, _ := env.stocks.Get("SKU-B")
	if a.Available != 5 || b.Available != 3 {
		t.Errorf("stock not returned: SKU-A=%d SKU-B=%d", a.Available, b.Available)
	}
}

func TestCancelPendingPayment(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if err := env.service.Cancel(order.ID, "customer changed mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Errorf("expected cancelled, got %s", stored.Status)
	}
	a, _ := env.stocks.Get("SKU-A")
	if a.Available != 5 || a.Reserved != 0 {
		t.Errorf("stock not returned: available=%d reserved=%d", a.Available, a.Reserved)
	}
}

func TestCancelConfirmedRequestsRefund(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := env.service.Confirm(order.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := env.service.Cancel(order.ID, "courier lost package"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	pending, _ := env.outbox.PullPending(100)
	found := false
	for _, msg := range pending {
		if msg.EventType == "RefundRequested" {
			found = true
		}
	}
	if !found {
		t.Error("expected RefundRequested event for cancelled confirmed order")
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := env.service.Cancel(order.ID, "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Отменённый заказ не воскресает ни оплатой, ни доставкой.
	// Повторная отмена — тоже ошибка, а не тихий успех.
	if err := env.service.Cancel(order.ID, "again"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on repeated cancel, got %v", err)
	}
	if err := env.service.Confirm(order.ID, "pay-late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on confirm, got %v", err)
	}
	if err := env.service.HandleShippingUpdate(order.ID, "delivered"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on shipping update, got %v", err)
	}

	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusCancelled {
		t.Errorf("terminal status mutated: %s", stored.Status)
	}
}

func TestShippingFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := env.service.Confirm(order.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := env.service.HandleShippingUpdate(order.ID, "shipped"); err != nil {
		t.Fatalf("shipping update shipped: %v", err)
	}
	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusFulfilled {
		t.Errorf("expected fulfilled, got %s", stored.Status)
	}

	if err := env.service.HandleShippingUpdate(order.ID, "delivered"); err != nil {
		t.Fatalf("shipping update delivered: %v", err)
	}
	stored, _ = env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusDelivered {
		t.Errorf("expected delivered, got %s", stored.Status)
	}

	// Неизвестный статус доставки игнорируется.
	if err := env.service.HandleShippingUpdate(order.ID, "teleported"); err != nil {
		t.Errorf("unknown shipping status must be ignored, got %v", err)
	}

	// Из delivered возможен только возврат.
	if err := env.service.Refund(order.ID, "defective item"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	stored, _ = env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusRefunded {
		t.Errorf("expected refunded, got %s", stored.Status)
	}
}

func TestTransitionRetriesOnVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Конкурент успел сохранить заказ: локальная копия несёт устаревшую версию.
	stale := order
	concurrent, _ := env.orders.Get(order.ID)
	if err := env.orders.Save(concurrent); err != nil {
		t.Fatalf("concurrent save: %v", err)
	}

	if err := env.service.transition(&stale, domain.OrderStatusConfirmed, "payment settled"); err != nil {
		t.Fatalf("transition with stale version: %v", err)
	}
	stored, _ := env.orders.Get(order.ID)
	if stored.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected confirmed after retry, got %s", stored.Status)
	}

	// Если конкурент уже довёл заказ до целевого статуса, повтор — no-op.
	stale2 := order
	if err := env.service.transition(&stale2, domain.OrderStatusConfirmed, "payment settled"); err != nil {
		t.Fatalf("transition to already-reached status: %v", err)
	}
}

func TestTimeline(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "SKU-A", 5)
	env.seedStock(t, "SKU-B", 3)

	order, err := env.service.Checkout(testSnapshot())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := env.service.Confirm(order.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	events, err := env.service.Timeline(order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected at least 2 timeline events, got %d", len(events))
	}
	if events[0].Type != "OrderCreated" {
		t.Errorf("expected first event OrderCreated, got %s", events[0].Type)
	}

	if _, err := env.service.Timeline("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
