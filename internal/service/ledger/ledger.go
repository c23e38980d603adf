package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
	"github.com/ultramarket/orderflow/internal/metrics"
)

const (
	// maxAttempts ограничивает количество CAS-попыток по одному SKU.
	maxAttempts = 5
	// baseDelay — базовая задержка перед повтором после конфликта версии.
	baseDelay = 10 * time.Millisecond
)

// Ledger — единственная точка мутации остатков. Все операции атомарны
// относительно записи SKU: конфликт версии приводит к перечитыванию
// и повтору с экспоненциальным backoff.
type Ledger struct {
	stocks       domain.StockRepository
	reservations domain.ReservationRepository
	logger       *log.Entry
	metrics      *metrics.CheckoutMetrics
}

// New создаёт ledger с метриками.
func New(stocks domain.StockRepository, reservations domain.ReservationRepository, logger *log.Entry) *Ledger {
	l := NewWithoutMetrics(stocks, reservations, logger)
	l.metrics = metrics.NewCheckoutMetrics()
	return l
}

// NewWithoutMetrics создаёт ledger без метрик (для тестов).
func NewWithoutMetrics(stocks domain.StockRepository, reservations domain.ReservationRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "ledger")
	}
	return &Ledger{
		stocks:       stocks,
		reservations: reservations,
		logger:       logger,
	}
}

// Reserve атомарно переносит qty единиц SKU из available в reserved и
// создаёт резерв со сроком жизни ttl. ErrOutOfStock возвращается сразу,
// без повторов: стока действительно не хватает. ErrStockContention
// означает исчерпанные CAS-попытки; checkout можно повторить целиком.
func (l *Ledger) Reserve(orderID, sku string, qty int64, ttl time.Duration) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		record, err := l.stocks.Get(sku)
		if err != nil {
			if errors.Is(err, domain.ErrStockNotFound) {
				return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrOutOfStock, sku)
			}
			return domain.Reservation{}, err
		}

		if err := record.Reserve(qty); err != nil {
			return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrOutOfStock, sku)
		}

		if err := l.stocks.Save(record); err != nil {
			if errors.Is(err, domain.ErrStockVersionConflict) {
				if l.metrics != nil {
					l.metrics.RecordStockConflict()
				}
				l.logger.WithFields(log.Fields{
					"sku":     sku,
					"attempt": attempt + 1,
				}).Debug("stock version conflict, retrying")
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return domain.Reservation{}, err
		}

		now := time.Now().UTC()
		res := domain.Reservation{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			SKU:       sku,
			Qty:       qty,
			Status:    domain.ReservationStatusActive,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
			UpdatedAt: now,
		}
		if err := l.reservations.Create(res); err != nil {
			// Удержание уже применено к стоку — компенсируем его.
			l.returnQuantity(sku, qty)
			return domain.Reservation{}, err
		}

		if l.metrics != nil {
			l.metrics.RecordReservationCreated()
		}
		return res, nil
	}

	return domain.Reservation{}, fmt.Errorf("%w: %s", domain.ErrStockContention, sku)
}

// Commit окончательно списывает удержанный сток. Повторный Commit
// уже закоммиченного резерва — no-op. Commit резерва, который успел
// истечь или был снят, возвращает ErrReservationNotActive: гонку
// выиграла другая сторона.
func (l *Ledger) Commit(reservationID string) error {
	return l.finalize(reservationID, domain.ReservationStatusCommitted, func(record *domain.StockRecord, qty int64) error {
		return record.Commit(qty)
	})
}

// Release возвращает удержанный сток в доступный остаток. Идемпотентен
// относительно уже снятого резерва.
func (l *Ledger) Release(reservationID string) error {
	return l.finalize(reservationID, domain.ReservationStatusReleased, func(record *domain.StockRecord, qty int64) error {
		return record.Release(qty)
	})
}

// Expire снимает просроченное удержание, помечая резерв как expired.
// Сток возвращается в available так же, как при Release.
func (l *Ledger) Expire(reservationID string) error {
	return l.finalize(reservationID, domain.ReservationStatusExpired, func(record *domain.StockRecord, qty int64) error {
		return record.Release(qty)
	})
}

// Restock пополняет доступный остаток, создавая запись при первом поступлении SKU.
func (l *Ledger) Restock(sku string, qty int64) error {
	if sku == "" {
		return domain.ErrSKURequired
	}
	if qty <= 0 {
		return domain.ErrReservationQtyInvalid
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		record, err := l.stocks.Get(sku)
		if errors.Is(err, domain.ErrStockNotFound) {
			createErr := l.stocks.Create(domain.StockRecord{SKU: sku, Available: qty})
			if createErr == nil {
				return nil
			}
			// Запись успел создать конкурент — перечитываем и идём по CAS-пути.
			if errors.Is(createErr, domain.ErrStockVersionConflict) {
				continue
			}
			return createErr
		}
		if err != nil {
			return err
		}

		record.Available += qty
		if err := l.stocks.Save(record); err != nil {
			if errors.Is(err, domain.ErrStockVersionConflict) {
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return err
		}
		return nil
	}

	return fmt.Errorf("%w: %s", domain.ErrStockContention, sku)
}

// finalize переводит резерв в конечный статус и применяет соответствующую
// мутацию стока. Переход статуса идёт первым: он же служит idempotency-guard,
// поэтому двойное применение мутации к стоку исключено. Если мутация стока
// не удалась, переход откатывается обратно в active.
func (l *Ledger) finalize(reservationID string, to domain.ReservationStatus, apply func(*domain.StockRecord, int64) error) error {
	res, err := l.reservations.Get(reservationID)
	if err != nil {
		return err
	}

	if res.Status == to {
		return nil
	}

	if err := l.reservations.TransitionStatus(reservationID, domain.ReservationStatusActive, to); err != nil {
		if errors.Is(err, domain.ErrReservationNotActive) {
			// Перечитываем: возможно, конкурирующий вызов уже довёл резерв
			// до нужного статуса — тогда это идемпотентный no-op.
			fresh, getErr := l.reservations.Get(reservationID)
			if getErr == nil && fresh.Status == to {
				return nil
			}
		}
		return err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		record, err := l.stocks.Get(res.SKU)
		if err != nil {
			l.revertFinalize(reservationID, to)
			return err
		}
		if err := apply(&record, res.Qty); err != nil {
			l.revertFinalize(reservationID, to)
			return err
		}
		if err := l.stocks.Save(record); err != nil {
			if errors.Is(err, domain.ErrStockVersionConflict) {
				if l.metrics != nil {
					l.metrics.RecordStockConflict()
				}
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			l.revertFinalize(reservationID, to)
			return err
		}

		if l.metrics != nil {
			switch to {
			case domain.ReservationStatusCommitted:
				l.metrics.RecordReservationCommitted()
			case domain.ReservationStatusReleased:
				l.metrics.RecordReservationReleased()
			case domain.ReservationStatusExpired:
				l.metrics.RecordReservationExpired()
			}
		}
		return nil
	}

	l.revertFinalize(reservationID, to)
	return fmt.Errorf("%w: %s", domain.ErrStockContention, res.SKU)
}

// revertFinalize возвращает резерв в active, если мутацию стока применить
// не удалось. Пока статус не стал терминальным окончательно, удержанные
// единицы остаются в reserved и баланс stocked = available + reserved +
// committed не нарушается: повторный Commit/Release или sweep доведут дело.
func (l *Ledger) revertFinalize(reservationID string, from domain.ReservationStatus) {
	err := l.reservations.TransitionStatus(reservationID, from, domain.ReservationStatusActive)
	if err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"reservation_id": reservationID,
			"status":         from,
		}).Error("compensation failed: reservation stuck in terminal status")
	}
}

// returnQuantity компенсирует удержание, если резерв не удалось сохранить.
func (l *Ledger) returnQuantity(sku string, qty int64) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		record, err := l.stocks.Get(sku)
		if err != nil {
			l.logger.WithError(err).WithField("sku", sku).Error("compensation failed: stock not readable")
			return
		}
		if err := record.Release(qty); err != nil {
			l.logger.WithError(err).WithField("sku", sku).Error("compensation failed: release rejected")
			return
		}
		if err := l.stocks.Save(record); err != nil {
			if errors.Is(err, domain.ErrStockVersionConflict) {
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			l.logger.WithError(err).WithField("sku", sku).Error("compensation failed: save rejected")
			return
		}
		return
	}
	l.logger.WithField("sku", sku).Error("compensation failed: contention exhausted")
}

var _ domain.InventoryLedger = (*Ledger)(nil)
