package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPendingPayment — заказ создан, сток зарезервирован, ждём оплату.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusConfirmed — оплата подтверждена шлюзом, резерв списан.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusFulfilled — заказ собран и передан в доставку.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusPaymentFailed — шлюз отклонил оплату либо резерв истёк без оплаты.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusCancelled — заказ отменён клиентом или оператором.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — деньги возвращены клиенту.
	OrderStatusRefunded OrderStatus = "refunded"
)

// allowedTransitions задаёт разрешённые рёбра статусной машины заказа.
// Из delivered разрешён только возврат; payment_failed, cancelled и refunded — тупиковые.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingPayment: {OrderStatusConfirmed, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusFulfilled, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusFulfilled:      {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:      {OrderStatusRefunded},
}

// Terminal сообщает, является ли статус конечным: дальнейшие переходы запрещены.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPendingPayment, OrderStatusConfirmed, OrderStatusFulfilled,
		OrderStatusDelivered, OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// CanTransition проверяет ребро from → to по статусной машине.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LineItem представляет одну позицию заказа. Позиции снимаются
// со снапшота корзины при создании заказа и далее неизменяемы.
type LineItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// SKU — идентификатор товарного варианта.
	SKU string
	// Qty — количество единиц товара.
	Qty int64
	// PriceMinor — цена за единицу в минимальных денежных единицах (тийины).
	PriceMinor int64
	// CreatedAt фиксирует момент снятия снапшота.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	Currency    string
	AmountMinor int64
	Items       []LineItem
	PaymentRef  string // Ссылка на платёж у шлюза; пустая до подтверждения оплаты.
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transition применяет переход статуса, проверяя ребро и конечность текущего статуса.
func (o *Order) Transition(to OrderStatus) error {
	if o.Status.Terminal() || !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.Qty * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
