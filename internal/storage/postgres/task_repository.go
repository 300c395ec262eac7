package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const taskColumns = `
	id, kind, order_id, COALESCE(dedup_key, ''), payload, due_at, status,
	attempts, last_error, created_at, updated_at`

type taskRepository struct {
	db *sql.DB
}

// NewTaskRepository создаёт PostgreSQL-реализацию TaskRepository.
func NewTaskRepository(store *Store) domain.TaskRepository {
	return &taskRepository{db: store.DB()}
}

func (r *taskRepository) Schedule(ctx context.Context, task domain.ScheduledTask) (domain.ScheduledTask, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.DueAt.IsZero() {
		task.DueAt = now
	}
	if len(task.Payload) == 0 {
		task.Payload = []byte("{}")
	}
	task.Status = domain.TaskStatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	var dedup any
	if task.DedupKey != "" {
		dedup = task.DedupKey
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, kind, order_id, dedup_key, payload, due_at, status, attempts, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,'',$8,$8)
	`, task.ID, string(task.Kind), task.OrderID, dedup, []byte(task.Payload), task.DueAt, string(task.Status), now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ScheduledTask{}, fmt.Errorf("%w: %s", domain.ErrTaskDuplicate, task.DedupKey)
		}
		return domain.ScheduledTask{}, fmt.Errorf("insert scheduled task: %w", err)
	}
	return task, nil
}

// ClaimDue переводит созревшие задачи в running; SKIP LOCKED позволяет
// нескольким репликам разбирать очередь параллельно. Строки, застрявшие
// в running дольше lease, забираются заново.
func (r *taskRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.ScheduledTask, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var staleBefore any
	if lease > 0 {
		staleBefore = now.Add(-lease)
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $3, attempts = attempts + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE (status = $1 AND due_at <= $2)
			   OR (status = $3 AND $5::timestamptz IS NOT NULL AND updated_at <= $5::timestamptz)
			ORDER BY due_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		string(domain.TaskStatusPending), now, string(domain.TaskStatusRunning), limit, staleBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING не сохраняет порядок подзапроса.
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].DueAt.Equal(tasks[j].DueAt) {
			return tasks[i].DueAt.Before(tasks[j].DueAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// Release возвращает невыполненную задачу в pending и снимает попытку, записанную при захвате.
func (r *taskRepository) Release(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var status string
	err := r.db.QueryRowContext(ctx, `
		UPDATE scheduled_tasks
		SET status = CASE WHEN status = $2 THEN $3 ELSE status END,
		    attempts = CASE WHEN status = $2 THEN GREATEST(attempts - 1, 0) ELSE attempts END,
		    updated_at = CASE WHEN status = $2 THEN $4 ELSE updated_at END
		WHERE id = $1
		RETURNING status
	`, id, string(domain.TaskStatusRunning), string(domain.TaskStatusPending), time.Now().UTC()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("release scheduled task: %w", err)
	}
	return nil
}

func (r *taskRepository) MarkDone(ctx context.Context, id string) error {
	return r.set(ctx, id, domain.TaskStatusDone, "", nil)
}

func (r *taskRepository) RetryLater(ctx context.Context, id, lastError string, dueAt time.Time) error {
	return r.set(ctx, id, domain.TaskStatusPending, lastError, &dueAt)
}

func (r *taskRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	return r.set(ctx, id, domain.TaskStatusFailed, lastError, nil)
}

func (r *taskRepository) Stats(ctx context.Context) (domain.TaskStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.TaskStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(due_at) FROM scheduled_tasks WHERE status = $1
	`, string(domain.TaskStatusPending)).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.TaskStats{}, fmt.Errorf("task stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestDueAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *taskRepository) DeleteFinished(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_tasks
		WHERE id IN (
			SELECT id FROM scheduled_tasks
			WHERE status IN ($1, $2) AND updated_at <= $3
			ORDER BY updated_at
			LIMIT $4
		)
	`, string(domain.TaskStatusDone), string(domain.TaskStatusFailed), before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *taskRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ScheduledTask, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks WHERE order_id = $1 ORDER BY due_at, created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *taskRepository) set(ctx context.Context, id string, status domain.TaskStatus, lastError string, dueAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, last_error = $3, due_at = COALESCE($4, due_at), updated_at = $5
		WHERE id = $1
	`, id, string(status), lastError, dueAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update scheduled task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]domain.ScheduledTask, error) {
	tasks := make([]domain.ScheduledTask, 0)
	for rows.Next() {
		var (
			task         domain.ScheduledTask
			kind, status string
			payload      []byte
		)
		if err := rows.Scan(
			&task.ID, &kind, &task.OrderID, &task.DedupKey, &payload, &task.DueAt, &status,
			&task.Attempts, &task.LastError, &task.CreatedAt, &task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		task.Kind = domain.TaskKind(kind)
		task.Status = domain.TaskStatus(status)
		task.Payload = payload
		task.DueAt = task.DueAt.UTC()
		task.CreatedAt = task.CreatedAt.UTC()
		task.UpdatedAt = task.UpdatedAt.UTC()
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled tasks: %w", err)
	}
	return tasks, nil
}

var _ domain.TaskRepository = (*taskRepository)(nil)
