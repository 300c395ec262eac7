package kafka

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// OutboxTopicPublisher оборачивает события outbox в Envelope и пишет их в topic.
// Ключом сообщения служит order_id, события одного заказа попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	headers  map[string]string
	now      func() time.Time
}

// NewOutboxPublisher публикует события заказа; пустой topic означает cod.order.events.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

// NewDLQOutboxPublisher пишет в cod.dlq события, которые не удалось доставить в cod.order.events.
func NewDLQOutboxPublisher(producer *Producer) *OutboxTopicPublisher {
	p := NewOutboxPublisher(producer, TopicDeadLetterQueue)
	p.headers = map[string]string{HeaderOriginalTopic: TopicOrderEvents}
	return p
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	now := p.now().UTC()

	headers := map[string]string{
		HeaderEventType: event.EventType,
		HeaderEventID:   event.ID,
	}
	for k, v := range p.headers {
		headers[k] = v
	}
	if p.topic == TopicDeadLetterQueue {
		headers[HeaderFailedAt] = now.Format(time.RFC3339)
	}

	return p.producer.PublishWithHeaders(p.topic, key, Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       event.Payload,
		PublishedAt:   now,
	}, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
