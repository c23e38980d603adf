package cache

import "time"

const (
	// Статус заказа: order_status:{order_id} -> строка статуса.
	KeyOrderStatus = "order_status:%s"
)

var (
	TTLOrderStatus = 5 * time.Minute
)
