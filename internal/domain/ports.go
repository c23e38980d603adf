package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// StockRepository хранит записи остатков по SKU.
type StockRepository interface {
	// Create заводит новую запись остатков; ошибка, если SKU уже существует.
	Create(record StockRecord) error
	// Get возвращает запись остатков или ErrStockNotFound.
	Get(sku string) (StockRecord, error)
	// Save сохраняет запись с проверкой версии; при несовпадении — ErrStockVersionConflict.
	Save(record StockRecord) error
}

// ReservationRepository хранит удержания стока.
type ReservationRepository interface {
	// Create сохраняет новый резерв.
	Create(res Reservation) error
	// Get возвращает резерв или ErrReservationNotFound.
	Get(id string) (Reservation, error)
	// ListByOrder возвращает все резервы заказа.
	ListByOrder(orderID string) ([]Reservation, error)
	// ListExpired возвращает до limit активных резервов с expires_at <= before.
	ListExpired(before time.Time, limit int) ([]Reservation, error)
	// TransitionStatus переводит резерв из статуса from в to.
	// Если текущий статус уже не from — ErrReservationNotActive: гонку
	// commit/expire выигрывает тот, кто успел первым.
	TransitionStatus(id string, from, to ReservationStatus) error
}

// PaymentEventRepository хранит дедуплицированные платёжные события.
type PaymentEventRepository interface {
	// Create сохраняет событие; при существующем (gateway, event_id) — ErrDuplicateEvent.
	Create(event PaymentEvent) error
	// Get возвращает событие или ErrEventNotFound.
	Get(gateway, eventID string) (PaymentEvent, error)
	// Park помечает событие как отложенное для ручной сверки.
	Park(gateway, eventID string) error
	// Unpark снимает отметку парковки после успешного reprocess.
	Unpark(gateway, eventID string) error
	// ListParked возвращает до limit припаркованных событий.
	ListParked(limit int) ([]PaymentEvent, error)
}

// InventoryLedger — единственная точка мутации остатков. Никто, кроме
// реализации ledger, не трогает Available/Reserved напрямую.
type InventoryLedger interface {
	// Reserve атомарно удерживает qty единиц SKU под заказ на срок ttl.
	Reserve(orderID, sku string, qty int64, ttl time.Duration) (Reservation, error)
	// Commit окончательно списывает удержанный сток. Идемпотентен.
	Commit(reservationID string) error
	// Release возвращает удержанный сток в доступный остаток. Идемпотентен.
	Release(reservationID string) error
	// Expire снимает просроченное удержание, помечая резерв как expired.
	Expire(reservationID string) error
	// Restock пополняет доступный остаток SKU, создавая запись при первом поступлении.
	Restock(sku string, qty int64) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
