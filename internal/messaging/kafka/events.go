package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka
const (
	TopicOrdersPlaced    = "cod.orders.placed"
	TopicOrderEvents     = "cod.order.events"
	TopicEscalations     = "cod.callcenter.escalations"
	TopicDeadLetterQueue = "cod.dlq"
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderEventID       = "x-event-id"
)

// OrderPlacedEvent сообщает о новом заказе, которому нужна оценка риска.
type OrderPlacedEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	PlacedAt   time.Time `json:"placed_at,omitempty"`
}

// Envelope оборачивает доменное событие при публикации из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseOrderPlaced разбирает OrderPlacedEvent из сообщения
func ParseOrderPlaced(message *sarama.ConsumerMessage) (*OrderPlacedEvent, error) {
	var event OrderPlacedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order placed event: %w", err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		event.OrderID = strings.TrimSpace(string(message.Key))
	}
	if event.OrderID == "" {
		return nil, fmt.Errorf("order placed event without order_id")
	}
	return &event, nil
}

// ParseEnvelope разбирает событие, опубликованное из outbox
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return &env, nil
}
