package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Handler выполняет задачу одного вида.
type Handler func(ctx context.Context, task domain.ScheduledTask) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую: задача сразу уходит в failed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Enqueue сериализует payload и сохраняет задачу со сроком dueAt.
// Непустой dedupKey защищает от повторного планирования той же задачи.
func Enqueue(ctx context.Context, repo domain.TaskRepository, kind domain.TaskKind, orderID, dedupKey string, payload any, dueAt time.Time) (domain.ScheduledTask, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("encode %s task: %w", kind, err)
	}
	task, err := repo.Schedule(ctx, domain.ScheduledTask{
		Kind:     kind,
		OrderID:  orderID,
		DedupKey: dedupKey,
		Payload:  raw,
		DueAt:    dueAt.UTC(),
	})
	if err != nil {
		return domain.ScheduledTask{}, fmt.Errorf("schedule %s for %s: %w", kind, orderID, err)
	}
	return task, nil
}

// Decode разбирает payload задачи; битый payload не лечится повтором.
func Decode[T any](task domain.ScheduledTask) (T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return payload, Permanent(fmt.Errorf("%s task %s: %w", task.Kind, task.ID, err))
	}
	return payload, nil
}
