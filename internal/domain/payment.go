package domain

import "time"

// PaymentOutcome — исход платёжного события после разбора webhook.
type PaymentOutcome string

const (
	// PaymentOutcomeSuccess — шлюз подтвердил списание средств.
	PaymentOutcomeSuccess PaymentOutcome = "success"
	// PaymentOutcomeFailure — шлюз сообщил об отказе или отмене платежа.
	PaymentOutcomeFailure PaymentOutcome = "failure"
	// PaymentOutcomeDuplicate — повторная доставка уже обработанного события.
	PaymentOutcomeDuplicate PaymentOutcome = "duplicate"
)

// PaymentEvent — дедуплицированная запись callback-а платёжного шлюза.
// EventID уникален в пределах шлюза; повторная доставка того же EventID
// фиксируется как duplicate без повторного применения side effects.
type PaymentEvent struct {
	EventID     string
	Gateway     string
	OrderID     string
	Outcome     PaymentOutcome
	AmountMinor int64
	RawPayload  []byte
	Parked      bool // Событие отложено для ручной сверки после исчерпания retry.
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// Validate проверяет корректность ключевых полей события.
func (e *PaymentEvent) Validate() []error {
	var errs []error

	if e.EventID == "" {
		errs = append(errs, ErrEventIDRequired)
	}
	if e.Gateway == "" {
		errs = append(errs, ErrUnknownGateway)
	}
	if e.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}

	return errs
}
