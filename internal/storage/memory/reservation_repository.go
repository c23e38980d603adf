package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
)

// reservationRepositoryInMemory — in-memory реализация ReservationRepository.
type reservationRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

// NewReservationRepository возвращает in-memory хранилище резервов.
func NewReservationRepository() domain.ReservationRepository {
	return &reservationRepositoryInMemory{
		items: make(map[string]domain.Reservation),
	}
}

// Create сохраняет новый резерв.
func (r *reservationRepositoryInMemory) Create(res domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[res.ID]; exists {
		return domain.ErrReservationNotActive
	}
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now
	r.items[res.ID] = res
	return nil
}

// Get возвращает резерв или ErrReservationNotFound.
func (r *reservationRepositoryInMemory) Get(id string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.items[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

// ListByOrder возвращает все резервы заказа, отсортированные по времени создания.
func (r *reservationRepositoryInMemory) ListByOrder(orderID string) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, res := range r.items {
		if res.OrderID == orderID {
			result = append(result, res)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// ListExpired возвращает до limit активных резервов с истёкшим TTL.
func (r *reservationRepositoryInMemory) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, res := range r.items {
		if res.Status != domain.ReservationStatusActive {
			continue
		}
		if res.ExpiresAt.After(before) {
			continue
		}
		result = append(result, res)
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// TransitionStatus переводит резерв из from в to. Проигравший гонку
// наблюдает чужой статус и получает ErrReservationNotActive.
func (r *reservationRepositoryInMemory) TransitionStatus(id string, from, to domain.ReservationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.items[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if res.Status != from {
		return domain.ErrReservationNotActive
	}
	res.Status = to
	res.UpdatedAt = time.Now().UTC()
	r.items[id] = res
	return nil
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
