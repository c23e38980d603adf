package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего SKU.
	ErrSKURequired = errors.New("sku is required")
	// Ошибка некорректного количества в резерве.
	ErrReservationQtyInvalid = errors.New("reservation qty must be greater than zero")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — попытка недопустимого перехода статуса заказа.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrStockNotFound возвращается, если SKU не заведён на складе.
	ErrStockNotFound = errors.New("stock record not found")
	// ErrStockVersionConflict — CAS по stock_records не прошёл, нужно перечитать запись.
	ErrStockVersionConflict = errors.New("stock version conflict")
	// ErrOutOfStock — доступного остатка не хватает под запрошенное количество.
	ErrOutOfStock = errors.New("out of stock")
	// ErrStockContention — исчерпаны попытки CAS по горячему SKU; операцию можно повторить.
	ErrStockContention = errors.New("stock contention, retry later")

	// ErrReservationNotFound возвращается, если резерв не найден.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationNotActive — резерв уже завершён (committed/released/expired).
	ErrReservationNotActive = errors.New("reservation is not active")

	// ErrInvalidSignature — подпись webhook не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownGateway — неизвестный платёжный шлюз в пути webhook.
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrMalformedPayload — тело webhook не удалось разобрать.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrDuplicateEvent — событие с таким event_id уже зарегистрировано.
	ErrDuplicateEvent = errors.New("duplicate payment event")
	// ErrEventIDRequired — платёжное событие без идентификатора.
	ErrEventIDRequired = errors.New("event_id is required")
	// ErrEventNotFound возвращается, если платёжное событие не найдено.
	ErrEventNotFound = errors.New("payment event not found")
	// ErrEventNotParked возвращается при попытке reprocess события, которое не припарковано.
	ErrEventNotParked = errors.New("payment event is not parked")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// OutOfStockError перечисляет SKU, по которым не хватило остатка.
// Через errors.Is совпадает с ErrOutOfStock.
type OutOfStockError struct {
	SKUs []string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: %s", strings.Join(e.SKUs, ", "))
}

// Is сопоставляет типизированную ошибку с сентинелом ErrOutOfStock.
func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий заказа или стока.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrStockVersionConflict)
}

// IsRetryable сообщает, имеет ли смысл повторять операцию с той же нагрузкой.
// Бизнес-отказы и ошибки валидации повторами не лечатся.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnknownGateway),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrStockNotFound),
		errors.Is(err, ErrReservationNotFound):
		return false
	default:
		return true
	}
}
