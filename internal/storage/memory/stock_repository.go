package memory

import (
	"sync"
	"time"

	"github.com/ultramarket/orderflow/internal/domain"
)

// stockRepositoryInMemory — in-memory реализация StockRepository.
type stockRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.StockRecord
}

// NewStockRepository возвращает in-memory хранилище остатков.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{
		items: make(map[string]domain.StockRecord),
	}
}

// Create заводит новую запись остатков; SKU должен быть уникален.
func (r *stockRepositoryInMemory) Create(record domain.StockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.SKU == "" {
		return domain.ErrSKURequired
	}
	if _, exists := r.items[record.SKU]; exists {
		return domain.ErrStockVersionConflict
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	r.items[record.SKU] = record
	return nil
}

// Get возвращает запись остатков или ErrStockNotFound.
func (r *stockRepositoryInMemory) Get(sku string) (domain.StockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[sku]
	if !ok {
		return domain.StockRecord{}, domain.ErrStockNotFound
	}
	return record, nil
}

// Save перезаписывает запись с проверкой версии (optimistic locking).
func (r *stockRepositoryInMemory) Save(record domain.StockRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[record.SKU]
	if !ok {
		return domain.ErrStockNotFound
	}
	if current.Version != record.Version {
		return domain.ErrStockVersionConflict
	}
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	r.items[record.SKU] = record
	return nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
