package domain

import "time"

// ReservationStatus отражает статус временного удержания стока под заказ.
type ReservationStatus string

const (
	// ReservationStatusActive — сток удержан, ждём исход оплаты.
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusCommitted — удержание превращено в окончательное списание.
	ReservationStatusCommitted ReservationStatus = "committed"
	// ReservationStatusReleased — удержание возвращено в доступный остаток.
	ReservationStatusReleased ReservationStatus = "released"
	// ReservationStatusExpired — TTL истёк, удержание снято sweep-воркером.
	ReservationStatusExpired ReservationStatus = "expired"
)

// Reservation описывает удержание qty единиц одного SKU под конкретный заказ.
type Reservation struct {
	ID        string
	OrderID   string
	SKU       string
	Qty       int64
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Active сообщает, удерживает ли резерв сток прямо сейчас.
func (r *Reservation) Active() bool {
	return r.Status == ReservationStatusActive
}

// ExpiredAt проверяет, истёк ли TTL резерва к моменту now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationStatusActive && !r.ExpiresAt.After(now)
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}

	return errs
}
