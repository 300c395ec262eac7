package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

var fixedNow = time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

func TestOutboxPublisher_WrapsEventInEnvelope(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		headers := headerMap(msg)
		if headers[HeaderEventType] != domain.EventConfirmationResolved || headers[HeaderEventID] != "outbox-1" {
			return fmt.Errorf("unexpected headers %+v", headers)
		}
		if _, ok := headers[HeaderFailedAt]; ok {
			return fmt.Errorf("regular events must not carry failed-at")
		}
		value, _ := msg.Value.Encode()
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.AggregateID != "order-123" || string(env.Payload) != `{"status":"Confirmed"}` || !env.PublishedAt.Equal(fixedNow) {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	publisher.now = func() time.Time { return fixedNow }
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventConfirmationResolved,
		Payload:       []byte(`{"status":"Confirmed"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestDLQOutboxPublisher_MarksOrigin(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "outbox-9" {
			return fmt.Errorf("key must fall back to outbox id, got %s", key)
		}
		headers := headerMap(msg)
		if headers[HeaderOriginalTopic] != TopicOrderEvents || headers[HeaderFailedAt] != "2026-03-05T09:00:00Z" {
			return fmt.Errorf("unexpected headers %+v", headers)
		}
		return nil
	})

	publisher := NewDLQOutboxPublisher(producer)
	publisher.now = func() time.Time { return fixedNow }
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-9", EventType: "RiskAssessed", Payload: []byte(`{}`)}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_ProducerError(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(producer, TopicOrderEvents).Publish(domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   domain.EventShipmentStatusChanged,
		Payload:     []byte(`{}`),
	})
	assert.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_NilProducer(t *testing.T) {
	assert.Error(t, NewOutboxPublisher(nil, TopicOrderEvents).Publish(domain.OutboxMessage{ID: "outbox-3"}))

	var publisher *OutboxTopicPublisher
	assert.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}))
}
