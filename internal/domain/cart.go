package domain

import "time"

// CartLine — одна строка снапшота корзины.
type CartLine struct {
	SKU        string
	Qty        int64
	PriceMinor int64
}

// CartSnapshot — неизменяемый слепок корзины, снятый в начале checkout.
// Цены и количества фиксируются здесь и не пересчитываются из живого каталога.
type CartSnapshot struct {
	CustomerID string
	Currency   string
	Lines      []CartLine
	TakenAt    time.Time
}

// TotalMinor возвращает сумму снапшота в минимальных единицах.
func (c *CartSnapshot) TotalMinor() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Qty * line.PriceMinor
	}
	return total
}

// Validate проверяет, что снапшот пригоден для резервирования.
func (c *CartSnapshot) Validate() []error {
	var errs []error

	if c.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if c.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(c.Lines) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, line := range c.Lines {
		if line.SKU == "" {
			errs = append(errs, ErrSKURequired)
		}
		if line.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	return errs
}
