package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ultramarket/orderflow/internal/domain"
)

// StatusCache — best-effort кэш статусов заказов поверх Redis.
// Любая ошибка Redis деградирует до чтения из хранилища: кэш никогда
// не является источником истины и может быть выключен nil-клиентом.
type StatusCache struct {
	rdb    *redis.Client
	logger *log.Entry
}

// NewStatusCache создаёт кэш статусов. С nil-клиентом все операции — no-op.
func NewStatusCache(rdb *redis.Client, logger *log.Entry) *StatusCache {
	if logger == nil {
		logger = log.WithField("component", "status-cache")
	}
	return &StatusCache{rdb: rdb, logger: logger}
}

// Get возвращает закэшированный статус заказа, если он есть.
func (c *StatusCache) Get(ctx context.Context, orderID string) (domain.OrderStatus, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}

	key := fmt.Sprintf(KeyOrderStatus, orderID)
	value, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("status cache read failed")
		}
		return "", false
	}

	status := domain.OrderStatus(value)
	if !status.Valid() {
		return "", false
	}
	return status, true
}

// Set записывает статус заказа с коротким TTL.
func (c *StatusCache) Set(ctx context.Context, orderID string, status domain.OrderStatus) {
	if c == nil || c.rdb == nil {
		return
	}

	key := fmt.Sprintf(KeyOrderStatus, orderID)
	if err := c.rdb.Set(ctx, key, string(status), TTLOrderStatus).Err(); err != nil {
		c.logger.WithError(err).Debug("status cache write failed")
	}
}

// Invalidate выбрасывает статус заказа из кэша после перехода.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	if c == nil || c.rdb == nil {
		return
	}

	key := fmt.Sprintf(KeyOrderStatus, orderID)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).Debug("status cache invalidate failed")
	}
}
