package domain

import (
	"encoding/json"
	"time"
)

// TaskKind задаёт тип отложенной задачи.
type TaskKind string

const (
	// TaskCallRetry — повторная попытка звонка подтверждения.
	TaskCallRetry TaskKind = "confirmation.call_retry"
	// TaskChatNotification — отложенное уведомление в чат о посылке в пути.
	TaskChatNotification TaskKind = "shipment.chat_notification"
)

// TaskStatus описывает жизненный цикл отложенной задачи.
type TaskStatus string

const (
	// TaskStatusPending — задача ждёт наступления DueAt.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning — задача захвачена воркером.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusDone — задача выполнена.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed — попытки исчерпаны.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Finished сообщает, что задача больше не будет выполняться.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusDone || s == TaskStatusFailed
}

// ScheduledTask описывает персистентную отложенную работу (повтор звонка, уведомление).
type ScheduledTask struct {
	ID        string          `json:"id"`
	Kind      TaskKind        `json:"kind"`
	OrderID   string          `json:"order_id"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	DueAt     time.Time       `json:"due_at"`
	Status    TaskStatus      `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TaskStats описывает backlog отложенных задач.
type TaskStats struct {
	PendingCount int
	OldestDueAt  time.Time
}

// CallRetryPayload содержит данные задачи повторного звонка.
type CallRetryPayload struct {
	OrderID string     `json:"order_id"`
	Attempt int        `json:"attempt"`
	Script  ScriptType `json:"script"`
	Locale  string     `json:"locale"`
}

// ChatNotificationPayload содержит данные задачи отложенного уведомления.
type ChatNotificationPayload struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	Locale         string `json:"locale"`
}
