package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
)

// eventKey — составной ключ дедупликации: event_id уникален в пределах шлюза.
type eventKey struct {
	gateway string
	eventID string
}

// paymentEventRepositoryInMemory — in-memory реализация PaymentEventRepository.
type paymentEventRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[eventKey]domain.PaymentEvent
}

// NewPaymentEventRepository возвращает in-memory хранилище платёжных событий.
func NewPaymentEventRepository() domain.PaymentEventRepository {
	return &paymentEventRepositoryInMemory{
		items: make(map[eventKey]domain.PaymentEvent),
	}
}

// Create сохраняет событие; повторная вставка того же (gateway, event_id)
// возвращает ErrDuplicateEvent — это и есть idempotency-guard.
func (r *paymentEventRepositoryInMemory) Create(event domain.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey{gateway: event.Gateway, eventID: event.EventID}
	if _, exists := r.items[key]; exists {
		return domain.ErrDuplicateEvent
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = now
	}
	r.items[key] = cloneEvent(event)
	return nil
}

// Get возвращает событие или ErrEventNotFound.
func (r *paymentEventRepositoryInMemory) Get(gateway, eventID string) (domain.PaymentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.items[eventKey{gateway: gateway, eventID: eventID}]
	if !ok {
		return domain.PaymentEvent{}, domain.ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// Park помечает событие для ручной сверки.
func (r *paymentEventRepositoryInMemory) Park(gateway, eventID string) error {
	return r.setParked(gateway, eventID, true)
}

// Unpark снимает отметку парковки.
func (r *paymentEventRepositoryInMemory) Unpark(gateway, eventID string) error {
	return r.setParked(gateway, eventID, false)
}

// ListParked возвращает до limit припаркованных событий в порядке создания.
func (r *paymentEventRepositoryInMemory) ListParked(limit int) ([]domain.PaymentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentEvent, 0)
	for _, event := range r.items {
		if event.Parked {
			result = append(result, cloneEvent(event))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *paymentEventRepositoryInMemory) setParked(gateway, eventID string, parked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey{gateway: gateway, eventID: eventID}
	event, ok := r.items[key]
	if !ok {
		return domain.ErrEventNotFound
	}
	if !parked && !event.Parked {
		return domain.ErrEventNotParked
	}
	event.Parked = parked
	r.items[key] = event
	return nil
}

func cloneEvent(src domain.PaymentEvent) domain.PaymentEvent {
	dst := src
	dst.RawPayload = append([]byte(nil), src.RawPayload...)
	return dst
}

var _ domain.PaymentEventRepository = (*paymentEventRepositoryInMemory)(nil)
