package kafka

import "time"

// Topics для Kafka
const (
	TopicOrderEvents     = "orderflow.order.events"
	TopicShippingEvents  = "orderflow.shipping.events"
	TopicDeadLetterQueue = "orderflow.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ShippingEvent — обновление статуса доставки от логистической службы.
type ShippingEvent struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	TrackingID string    `json:"tracking_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
