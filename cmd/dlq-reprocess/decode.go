package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/messaging/kafka"
)

var errUnknownRecord = errors.New("unknown dlq record")

// replay описывает сообщение, готовое к повторной публикации.
type replay struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

// headers обнуляют счётчик попыток, чтобы consumer снова получил полный бюджет.
func (r replay) headers() map[string]string {
	h := map[string]string{kafka.HeaderRetryCount: "0"}
	if r.eventType != "" {
		h[kafka.HeaderEventType] = r.eventType
	}
	return h
}

// decodeReplay понимает записи consumer (kafka.DeadLetter) и outbox-воркера
// (Envelope с domain.OutboxDeadLetter внутри).
func decodeReplay(msg *sarama.ConsumerMessage, outboxTopic string, now time.Time) (replay, error) {
	var dl kafka.DeadLetter
	if json.Unmarshal(msg.Value, &dl) == nil && dl.OriginalValue != "" {
		return consumerReplay(msg, dl)
	}

	env, err := kafka.ParseEnvelope(msg)
	if err != nil || len(env.Payload) == 0 {
		return replay{}, errUnknownRecord
	}
	var rec domain.OutboxDeadLetter
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return replay{}, fmt.Errorf("outbox dead letter: %w", err)
	}
	if len(rec.Payload) == 0 {
		return replay{}, errors.New("outbox dead letter has no event payload")
	}

	out := kafka.Envelope{
		ID:            coalesce(rec.OutboxID, env.ID),
		AggregateType: coalesce(rec.AggregateType, env.AggregateType),
		AggregateID:   coalesce(rec.AggregateID, env.AggregateID),
		EventType:     coalesce(rec.EventType, env.EventType),
		Payload:       rec.Payload,
		PublishedAt:   now,
	}
	value, err := json.Marshal(out)
	if err != nil {
		return replay{}, err
	}
	return replay{
		topic:     outboxTopic,
		key:       coalesce(out.AggregateID, out.ID),
		eventType: out.EventType,
		value:     value,
	}, nil
}

func consumerReplay(msg *sarama.ConsumerMessage, dl kafka.DeadLetter) (replay, error) {
	if !json.Valid([]byte(dl.OriginalValue)) {
		return replay{}, errors.New("original value is not json")
	}
	topic := strings.TrimSpace(dl.OriginalTopic)
	if topic == "" {
		topic = header(msg, kafka.HeaderOriginalTopic)
	}
	if topic == "" {
		topic = kafka.TopicOrdersPlaced
	}
	return replay{topic: topic, key: dl.OriginalKey, value: []byte(dl.OriginalValue)}, nil
}

func header(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
