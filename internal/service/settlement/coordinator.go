package settlement

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/metrics"
)

// Result — исход обработки webhook.
type Result string

const (
	// ResultApplied — событие обработано впервые, переход заказа применён.
	ResultApplied Result = "applied"
	// ResultDuplicate — событие уже обрабатывалось, side effects не повторялись.
	ResultDuplicate Result = "duplicate"
)

// RetryConfig — параметры повторов применения платёжного события.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию повторов по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// OrderTransitions — операции заказа, которые запускает платёжное событие.
type OrderTransitions interface {
	Confirm(orderID, paymentRef string) error
	FailPayment(orderID, reason string) error
}

// Coordinator сводит callback-и платёжных шлюзов к ровно одному переходу
// заказа на каждое событие. Дедупликация строится на уникальности
// (gateway, event_id); повторная доставка возвращает duplicate без
// повторного применения. События, которые не удалось применить после
// всех повторов, паркуются для ручной сверки.
type Coordinator struct {
	events   domain.PaymentEventRepository
	orders   OrderTransitions
	gateways map[string]Gateway
	retry    RetryConfig
	logger   *log.Entry
	metrics  *metrics.CheckoutMetrics
}

// NewCoordinator создаёт координатор с метриками.
func NewCoordinator(events domain.PaymentEventRepository, orders OrderTransitions, gateways map[string]Gateway, logger *log.Entry) *Coordinator {
	c := NewCoordinatorWithoutMetrics(events, orders, gateways, logger)
	c.metrics = metrics.NewCheckoutMetrics()
	return c
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(events domain.PaymentEventRepository, orders OrderTransitions, gateways map[string]Gateway, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "settlement-coordinator")
	}
	return &Coordinator{
		events:   events,
		orders:   orders,
		gateways: gateways,
		retry:    DefaultRetryConfig(),
		logger:   logger,
	}
}

// SetRetryConfig переопределяет параметры повторов.
func (c *Coordinator) SetRetryConfig(cfg RetryConfig) {
	if cfg.MaxAttempts > 0 {
		c.retry = cfg
	}
}

// Gateway возвращает интеграцию шлюза по коду.
func (c *Coordinator) Gateway(name string) (Gateway, bool) {
	g, ok := c.gateways[name]
	return g, ok
}

// HandleWebhook обрабатывает callback шлюза: проверяет подпись, разбирает
// тело, регистрирует событие и применяет переход заказа. Любая ошибка
// подписи возвращается как ErrInvalidSignature без уточнения причины.
func (c *Coordinator) HandleWebhook(gatewayName, signature string, body []byte) (Result, error) {
	started := time.Now()
	result, err := c.handleWebhook(gatewayName, signature, body)
	if c.metrics != nil {
		c.metrics.RecordWebhookDuration(time.Since(started))
		label := string(result)
		if err != nil {
			label = "error"
		}
		c.metrics.RecordWebhookResult(gatewayName, label)
	}
	return result, err
}

func (c *Coordinator) handleWebhook(gatewayName, signature string, body []byte) (Result, error) {
	gateway, ok := c.gateways[gatewayName]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownGateway, gatewayName)
	}

	if err := gateway.VerifySignature(body, signature); err != nil {
		c.logger.WithField("gateway", gatewayName).Warn("webhook signature rejected")
		return "", err
	}

	parsed, err := gateway.ParseEvent(body)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	event := domain.PaymentEvent{
		EventID:     parsed.EventID,
		Gateway:     gatewayName,
		OrderID:     parsed.OrderID,
		Outcome:     parsed.Outcome,
		AmountMinor: parsed.AmountMinor,
		RawPayload:  body,
		ProcessedAt: now,
		CreatedAt:   now,
	}
	if err := c.events.Create(event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			c.logger.WithFields(log.Fields{
				"gateway":  gatewayName,
				"event_id": parsed.EventID,
				"order_id": parsed.OrderID,
			}).Info("duplicate payment event ignored")
			return ResultDuplicate, nil
		}
		return "", err
	}

	if err := c.apply(event, parsed.Reference); err != nil {
		c.park(event, err)
		return "", err
	}
	return ResultApplied, nil
}

// Reprocess повторно применяет припаркованное событие. Используется
// ручной сверкой после устранения причины сбоя.
func (c *Coordinator) Reprocess(gatewayName, eventID string) error {
	event, err := c.events.Get(gatewayName, eventID)
	if err != nil {
		return err
	}
	if !event.Parked {
		return fmt.Errorf("%w: %s/%s", domain.ErrEventNotParked, gatewayName, eventID)
	}

	var reference string
	if gateway, ok := c.gateways[gatewayName]; ok {
		if parsed, parseErr := gateway.ParseEvent(event.RawPayload); parseErr == nil {
			reference = parsed.Reference
		}
	}

	if err := c.apply(event, reference); err != nil {
		return err
	}
	if err := c.events.Unpark(gatewayName, eventID); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordParkedEvents(-1)
	}
	c.logger.WithFields(log.Fields{
		"gateway":  gatewayName,
		"event_id": eventID,
		"order_id": event.OrderID,
	}).Info("parked payment event reprocessed")
	return nil
}

// ListParked возвращает события, ожидающие ручной сверки.
func (c *Coordinator) ListParked(limit int) ([]domain.PaymentEvent, error) {
	return c.events.ListParked(limit)
}

// apply запускает переход заказа по исходу события с повторами для
// временных сбоев. Бизнес-отказы (недопустимый переход, неизвестный
// заказ) не повторяются: они не лечатся временем.
func (c *Coordinator) apply(event domain.PaymentEvent, reference string) error {
	op := func() error {
		switch event.Outcome {
		case domain.PaymentOutcomeSuccess:
			ref := reference
			if ref == "" {
				ref = event.Gateway + ":" + event.EventID
			}
			return c.orders.Confirm(event.OrderID, ref)
		case domain.PaymentOutcomeFailure:
			return c.orders.FailPayment(event.OrderID, "gateway reported failure")
		default:
			return nil
		}
	}

	var lastErr error
	delay := c.retry.InitialDelay
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"gateway":  event.Gateway,
					"event_id": event.EventID,
					"attempt":  attempt,
				}).Info("payment event applied after retry")
			}
			return nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return err
		}
		if attempt < c.retry.MaxAttempts {
			c.logger.WithError(err).WithFields(log.Fields{
				"gateway":  event.Gateway,
				"event_id": event.EventID,
				"attempt":  attempt,
				"delay":    delay,
			}).Warn("payment event apply failed, retrying")
			time.Sleep(delay)

			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}
	}
	return lastErr
}

// park откладывает событие для ручной сверки, сохранив его в журнале.
func (c *Coordinator) park(event domain.PaymentEvent, cause error) {
	if err := c.events.Park(event.Gateway, event.EventID); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"gateway":  event.Gateway,
			"event_id": event.EventID,
		}).Error("park payment event failed")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordParkedEvents(1)
	}
	c.logger.WithError(cause).WithFields(log.Fields{
		"gateway":  event.Gateway,
		"event_id": event.EventID,
		"order_id": event.OrderID,
	}).Error("payment event parked for manual reconciliation")
}
