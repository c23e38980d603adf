package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/metrics"
	"github.com/ultramarket/orderflow/internal/service/reservation"
)

const (
	// maxSaveRetries — количество попыток сохранить заказ при конфликте версий.
	maxSaveRetries = 3
	baseRetryDelay = 10 * time.Millisecond
)

// Service ведёт заказ по машине состояний: создание из снапшота корзины,
// переходы по оплате и доставке, отмена и возврат. Каждый переход
// фиксируется в outbox и timeline заказа.
type Service struct {
	orders       domain.OrderRepository
	reservations *reservation.Manager
	outbox       domain.OutboxRepository
	timeline     domain.TimelineRepository
	logger       *log.Entry
	metrics      *metrics.CheckoutMetrics
}

// New создаёт сервис заказов с метриками.
func New(
	orders domain.OrderRepository,
	reservations *reservation.Manager,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	s := NewWithoutMetrics(orders, reservations, outbox, timeline, logger)
	s.metrics = metrics.NewCheckoutMetrics()
	return s
}

// NewWithoutMetrics создаёт сервис заказов без метрик (для тестов).
func NewWithoutMetrics(
	orders domain.OrderRepository,
	reservations *reservation.Manager,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	return &Service{
		orders:       orders,
		reservations: reservations,
		outbox:       outbox,
		timeline:     timeline,
		logger:       logger,
	}
}

// Checkout превращает снапшот корзины в заказ: сначала удерживается сток
// под каждую позицию, затем создаётся заказ в статусе pending_payment.
// Цены и количества берутся из снапшота и больше не меняются, даже если
// каталог успел обновиться.
func (s *Service) Checkout(snapshot domain.CartSnapshot) (domain.Order, error) {
	started := time.Now()

	if errs := snapshot.Validate(); len(errs) > 0 {
		s.recordCheckout(started, "invalid")
		return domain.Order{}, errs[0]
	}

	orderID := uuid.NewString()
	if _, err := s.reservations.ReserveCart(orderID, snapshot); err != nil {
		switch {
		case errors.Is(err, domain.ErrOutOfStock):
			s.recordCheckout(started, "out_of_stock")
		case errors.Is(err, domain.ErrStockContention):
			s.recordCheckout(started, "contention")
		default:
			s.recordCheckout(started, "error")
		}
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:         orderID,
		CustomerID: snapshot.CustomerID,
		Status:     domain.OrderStatusPendingPayment,
		Currency:   snapshot.Currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, line := range snapshot.Lines {
		order.Items = append(order.Items, domain.LineItem{
			ID:         uuid.NewString(),
			SKU:        line.SKU,
			Qty:        line.Qty,
			PriceMinor: line.PriceMinor,
			CreatedAt:  now,
		})
	}
	order.AmountMinor = snapshot.TotalMinor()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.rollbackCheckout(orderID)
		s.recordCheckout(started, "invalid")
		return domain.Order{}, errs[0]
	}

	if err := s.orders.Create(order); err != nil {
		s.rollbackCheckout(orderID)
		s.recordCheckout(started, "error")
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.emitEvent(&order, "OrderCreated", map[string]interface{}{
		"status":       order.Status,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
		"ts":           now.Format(time.RFC3339Nano),
	})

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
		"items":        len(order.Items),
	}).Info("order created")

	s.recordCheckout(started, "ok")
	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByCustomer(customerID, limit)
}

// Timeline возвращает события жизненного цикла заказа.
func (s *Service) Timeline(orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.timeline.List(orderID)
}

// Confirm подтверждает заказ после успешной оплаты: резервы списываются,
// заказ переходит в confirmed с привязкой к платежу.
func (s *Service) Confirm(orderID, paymentRef string) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}

	order.PaymentRef = paymentRef
	if err := s.transition(&order, domain.OrderStatusConfirmed, "payment settled"); err != nil {
		return err
	}

	if err := s.reservations.CommitOrder(orderID); err != nil {
		// Статус уже confirmed; недосписанный резерв доберёт ручная сверка.
		s.logger.WithError(err).WithField("order_id", orderID).Error("commit reservations failed after confirm")
		return err
	}
	return nil
}

// FailPayment переводит заказ в payment_failed и возвращает сток.
func (s *Service) FailPayment(orderID, reason string) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}

	if err := s.transition(&order, domain.OrderStatusPaymentFailed, reason); err != nil {
		return err
	}
	return s.reservations.ReleaseOrder(orderID)
}

// Cancel отменяет заказ. Из pending_payment резервы снимаются; отмена
// confirmed-заказа дополнительно ставит в outbox запрос на возврат средств.
func (s *Service) Cancel(orderID, reason string) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	wasConfirmed := order.Status == domain.OrderStatusConfirmed

	if err := s.transition(&order, domain.OrderStatusCancelled, reason); err != nil {
		return err
	}

	if wasConfirmed {
		s.emitEvent(&order, "RefundRequested", map[string]interface{}{
			"amount_minor": order.AmountMinor,
			"currency":     order.Currency,
			"reason":       reason,
			"ts":           time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	// Для confirmed-заказа резервы уже списаны, release пропустит их как
	// неактивные; для pending_payment сток вернётся в доступный остаток.
	return s.reservations.ReleaseOrder(orderID)
}

// Refund фиксирует возврат средств по заказу.
func (s *Service) Refund(orderID, reason string) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	return s.transition(&order, domain.OrderStatusRefunded, reason)
}

// HandleShippingUpdate применяет статус из службы доставки.
// Неизвестные статусы игнорируются с предупреждением в логе.
func (s *Service) HandleShippingUpdate(orderID, shippingStatus string) error {
	var target domain.OrderStatus
	switch shippingStatus {
	case "shipped", "fulfilled":
		target = domain.OrderStatusFulfilled
	case "delivered":
		target = domain.OrderStatusDelivered
	default:
		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   shippingStatus,
		}).Warn("unknown shipping status ignored")
		return nil
	}

	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	return s.transition(&order, target, "shipping update: "+shippingStatus)
}

// transition переводит заказ в новый статус с retry при конфликте версий.
// Недопустимый переход логируется и возвращается как ErrInvalidTransition;
// терминальные статусы не покидаются ни при каких условиях.
func (s *Service) transition(order *domain.Order, to domain.OrderStatus, reason string) error {
	if order.Status == to {
		// Повторный переход в тот же нетерминальный статус — идемпотентный no-op.
		// Из терминального статуса выхода нет даже "в себя": cancel уже
		// отменённого заказа обязан вернуть ошибку, а не тихий успех.
		if order.Status.Terminal() {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"from":     order.Status,
				"to":       to,
			}).Warn("invalid status transition rejected")
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, to)
		}
		return nil
	}

	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		previous := order.Status
		if err := order.Transition(to); err != nil {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"from":     previous,
				"to":       to,
			}).Warn("invalid status transition rejected")
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, previous, to)
		}
		prevVersion := order.Version

		if err := s.orders.Save(*order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxSaveRetries-1 {
				s.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("order version conflict, retrying")

				fresh, loadErr := s.orders.Get(order.ID)
				if loadErr != nil {
					return loadErr
				}
				// Свежая копия может уже быть в целевом статусе или в терминальном:
				// легальность перехода проверяется заново на следующей итерации.
				*order = fresh
				if order.Status == to {
					return nil
				}
				time.Sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			order.Status = previous
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"to":       to,
			}).Error("failed to persist order status")
			return err
		}

		order.Version = prevVersion + 1
		if s.metrics != nil {
			s.metrics.RecordOrderTransition(string(to))
		}
		s.emitEvent(order, "OrderStatusChanged", map[string]interface{}{
			"status":     order.Status,
			"previous":   previous,
			"reason":     reason,
			"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
			"ts":         order.UpdatedAt.Format(time.RFC3339Nano),
		})
		return nil
	}

	return domain.ErrOrderVersionConflict
}

// emitEvent кладёт событие в outbox и timeline заказа. Сбой записи
// не прерывает основную операцию: событие теряется только из timeline,
// outbox backlog виден в метриках.
func (s *Service) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}

	if s.timeline == nil {
		return
	}
	var reason string
	if r, ok := payload["reason"].(string); ok {
		reason = r
	}
	occurred := time.Now().UTC()
	if ts, ok := payload["ts"].(string); ok {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			occurred = parsed
		}
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Warn("append timeline event failed")
	} else if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

func (s *Service) recordCheckout(started time.Time, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordCheckoutDuration(time.Since(started))
	s.metrics.RecordCheckoutResult(result)
}

func (s *Service) rollbackCheckout(orderID string) {
	if err := s.reservations.ReleaseOrder(orderID); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("checkout rollback failed")
	}
}
