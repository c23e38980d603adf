package reservation

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
)

// defaultTTL — срок жизни резерва, отведённый покупателю на оплату.
const defaultTTL = 15 * time.Minute

// Manager резервирует корзину целиком: либо удержан каждый SKU,
// либо ни один. Частично применённые удержания компенсируются
// в обратном порядке.
type Manager struct {
	ledger       domain.InventoryLedger
	reservations domain.ReservationRepository
	logger       *log.Entry
	ttl          time.Duration
}

// NewManager создаёт менеджер резервов поверх ledger.
func NewManager(ledger domain.InventoryLedger, reservations domain.ReservationRepository, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "reservation-manager")
	}
	return &Manager{
		ledger:       ledger,
		reservations: reservations,
		logger:       logger,
		ttl:          defaultTTL,
	}
}

// SetTTL переопределяет срок жизни резервов.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		m.ttl = ttl
	}
}

// ReserveCart удерживает сток под каждую позицию снапшота корзины.
// При отказе по любому SKU уже созданные резервы снимаются, а вызывающему
// возвращается OutOfStockError со списком проблемных SKU (для нехватки
// остатка) либо первая инфраструктурная ошибка.
func (m *Manager) ReserveCart(orderID string, snapshot domain.CartSnapshot) ([]domain.Reservation, error) {
	if errs := snapshot.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	created := make([]domain.Reservation, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		res, err := m.ledger.Reserve(orderID, line.SKU, line.Qty, m.ttl)
		if err != nil {
			m.rollback(created)
			if errors.Is(err, domain.ErrOutOfStock) {
				return nil, &domain.OutOfStockError{SKUs: []string{line.SKU}}
			}
			return nil, fmt.Errorf("reserve %s: %w", line.SKU, err)
		}
		created = append(created, res)
	}

	return created, nil
}

// CommitOrder списывает все активные резервы заказа. Ошибка по одному
// резерву не останавливает остальные: оплата уже получена, довести
// списание важнее, чем упасть на первом сбое.
func (m *Manager) CommitOrder(orderID string) error {
	return m.finalizeOrder(orderID, m.ledger.Commit, "commit")
}

// ReleaseOrder снимает все активные резервы заказа, возвращая сток.
func (m *Manager) ReleaseOrder(orderID string) error {
	return m.finalizeOrder(orderID, m.ledger.Release, "release")
}

func (m *Manager) finalizeOrder(orderID string, op func(string) error, opName string) error {
	list, err := m.reservations.ListByOrder(orderID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, res := range list {
		if !res.Active() {
			continue
		}
		if err := op(res.ID); err != nil {
			// Конкурирующий sweep мог успеть первым — это не сбой.
			if errors.Is(err, domain.ErrReservationNotActive) {
				m.logger.WithFields(log.Fields{
					"order_id":       orderID,
					"reservation_id": res.ID,
					"op":             opName,
				}).Warn("reservation already finalized by concurrent actor")
				continue
			}
			m.logger.WithError(err).WithFields(log.Fields{
				"order_id":       orderID,
				"reservation_id": res.ID,
				"op":             opName,
			}).Error("reservation finalize failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// rollback снимает резервы в обратном порядке создания.
func (m *Manager) rollback(created []domain.Reservation) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := m.ledger.Release(created[i].ID); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"reservation_id": created[i].ID,
				"sku":            created[i].SKU,
			}).Error("rollback release failed")
		}
	}
}
