package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

type taskRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.ScheduledTask
	dedup map[string]string
}

// NewTaskRepository создаёт in-memory реализацию TaskRepository.
func NewTaskRepository() domain.TaskRepository {
	return &taskRepositoryInMemory{
		items: make(map[string]domain.ScheduledTask),
		dedup: make(map[string]string),
	}
}

func (r *taskRepositoryInMemory) Schedule(_ context.Context, task domain.ScheduledTask) (domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.DedupKey != "" {
		if _, exists := r.dedup[task.DedupKey]; exists {
			return domain.ScheduledTask{}, domain.ErrTaskDuplicate
		}
	}

	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.DueAt.IsZero() {
		task.DueAt = now
	}
	task.Status = domain.TaskStatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	r.items[task.ID] = cloneTask(task)
	if task.DedupKey != "" {
		r.dedup[task.DedupKey] = task.ID
	}
	return cloneTask(task), nil
}

// ClaimDue захватывает созревшие задачи в порядке DueAt вместе с задачами,
// чей захват старше lease.
func (r *taskRepositoryInMemory) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]domain.ScheduledTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	due := make([]domain.ScheduledTask, 0)
	for _, task := range r.items {
		if claimable(task, now, lease) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].Status = domain.TaskStatusRunning
		due[i].Attempts++
		due[i].UpdatedAt = now
		r.items[due[i].ID] = cloneTask(due[i])
	}
	return due, nil
}

func claimable(task domain.ScheduledTask, now time.Time, lease time.Duration) bool {
	switch task.Status {
	case domain.TaskStatusPending:
		return !task.DueAt.After(now)
	case domain.TaskStatusRunning:
		return lease > 0 && !task.UpdatedAt.After(now.Add(-lease))
	default:
		return false
	}
}

func (r *taskRepositoryInMemory) Release(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.items[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.Status != domain.TaskStatusRunning {
		return nil
	}
	task.Status = domain.TaskStatusPending
	task.Attempts = max(task.Attempts-1, 0)
	task.UpdatedAt = time.Now().UTC()
	r.items[id] = task
	return nil
}

func (r *taskRepositoryInMemory) MarkDone(_ context.Context, id string) error {
	return r.set(id, func(t *domain.ScheduledTask) {
		t.Status = domain.TaskStatusDone
		t.LastError = ""
	})
}

func (r *taskRepositoryInMemory) RetryLater(_ context.Context, id, lastError string, dueAt time.Time) error {
	return r.set(id, func(t *domain.ScheduledTask) {
		t.Status = domain.TaskStatusPending
		t.LastError = lastError
		t.DueAt = dueAt
	})
}

func (r *taskRepositoryInMemory) MarkFailed(_ context.Context, id, lastError string) error {
	return r.set(id, func(t *domain.ScheduledTask) {
		t.Status = domain.TaskStatusFailed
		t.LastError = lastError
	})
}

func (r *taskRepositoryInMemory) Stats(_ context.Context) (domain.TaskStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.TaskStats
	for _, task := range r.items {
		if task.Status != domain.TaskStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestDueAt.IsZero() || task.DueAt.Before(stats.OldestDueAt) {
			stats.OldestDueAt = task.DueAt
		}
	}
	return stats, nil
}

// DeleteFinished удаляет до limit завершённых задач старше before.
func (r *taskRepositoryInMemory) DeleteFinished(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 500
	}

	deleted := 0
	for id, task := range r.items {
		if deleted >= limit {
			break
		}
		if !task.Status.Finished() || task.UpdatedAt.After(before) {
			continue
		}
		delete(r.items, id)
		if task.DedupKey != "" {
			delete(r.dedup, task.DedupKey)
		}
		deleted++
	}
	return deleted, nil
}

func (r *taskRepositoryInMemory) ListByOrder(_ context.Context, orderID string) ([]domain.ScheduledTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.ScheduledTask, 0)
	for _, task := range r.items {
		if task.OrderID == orderID {
			result = append(result, cloneTask(task))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueAt.Equal(result[j].DueAt) {
			return result[i].DueAt.Before(result[j].DueAt)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *taskRepositoryInMemory) set(id string, apply func(*domain.ScheduledTask)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.items[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	apply(&task)
	task.UpdatedAt = time.Now().UTC()
	r.items[id] = task
	return nil
}

func cloneTask(task domain.ScheduledTask) domain.ScheduledTask {
	task.Payload = append([]byte(nil), task.Payload...)
	return task
}

var _ domain.TaskRepository = (*taskRepositoryInMemory)(nil)
