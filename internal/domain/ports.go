package domain

import (
	"context"
	"encoding/json"
	"time"
)

// CallRequest описывает запрос на исходящий звонок.
type CallRequest struct {
	To                string
	CallbackURL       string
	StatusCallbackURL string
}

// VoiceProvider описывает голосового провайдера (исходящие IVR-звонки).
type VoiceProvider interface {
	// PlaceCall заказывает звонок и возвращает идентификатор звонка провайдера.
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
}

// Delivery содержит результат отправки сообщения в канал.
type Delivery struct {
	ID     string
	Status string
}

// Sender описывает канал доставки уведомлений (SMS, чат).
type Sender interface {
	Send(ctx context.Context, destination, body string) (Delivery, error)
}

// EscalationPriority задаёт приоритет записи в очереди колл-центра.
type EscalationPriority string

// EscalationUrgent пока единственный используемый приоритет.
const EscalationUrgent EscalationPriority = "URGENT"

// EscalationRecord описывает структурированную запись для колл-центра.
type EscalationRecord struct {
	OrderID       string             `json:"order_id"`
	OrderNumber   string             `json:"order_number"`
	CustomerName  string             `json:"customer_name"`
	CustomerPhone string             `json:"customer_phone"`
	Address       string             `json:"address"`
	ItemCount     int                `json:"item_count"`
	AmountMinor   int64              `json:"amount_minor"`
	Currency      string             `json:"currency"`
	Reason        string             `json:"reason"`
	Priority      EscalationPriority `json:"priority"`
	CreatedAt     time.Time          `json:"created_at"`
}

// EscalationQueue принимает записи для ручной обработки.
type EscalationQueue interface {
	Push(ctx context.Context, record EscalationRecord) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxDeadLetter хранит payload события outbox, перенесённого в DLQ после
// исчерпания попыток публикации.
type OutboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
