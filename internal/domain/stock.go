package domain

import "time"

// StockRecord — запись остатков по одному SKU.
// Available не включает зарезервированные единицы; Version используется
// для optimistic concurrency при любой мутации.
type StockRecord struct {
	SKU       string
	Available int64
	Reserved  int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanReserve проверяет, хватает ли доступного остатка под qty единиц.
func (s *StockRecord) CanReserve(qty int64) bool {
	return qty > 0 && s.Available >= qty
}

// Reserve переносит qty единиц из доступного остатка в резерв.
func (s *StockRecord) Reserve(qty int64) error {
	if !s.CanReserve(qty) {
		return ErrOutOfStock
	}
	s.Available -= qty
	s.Reserved += qty
	return nil
}

// Release возвращает qty единиц из резерва в доступный остаток.
func (s *StockRecord) Release(qty int64) error {
	if qty <= 0 || s.Reserved < qty {
		return ErrReservationQtyInvalid
	}
	s.Reserved -= qty
	s.Available += qty
	return nil
}

// Commit окончательно списывает qty единиц из резерва (финальная продажа).
func (s *StockRecord) Commit(qty int64) error {
	if qty <= 0 || s.Reserved < qty {
		return ErrReservationQtyInvalid
	}
	s.Reserved -= qty
	return nil
}

// Validate проверяет инварианты записи остатков.
func (s *StockRecord) Validate() []error {
	var errs []error

	if s.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if s.Available < 0 || s.Reserved < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}
