package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Статусы строки outbox_messages.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"

	defaultOutboxBatch = 100
)

const (
	insertOutboxSQL = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`

	selectPendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`

	outboxBacklogSQL = `
		SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`

	finishOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4`
)

type outboxRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), now: time.Now}
}

// Enqueue кладёт событие в очередь со статусом pending; пустой ID генерируется.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload := msg.Payload
	if payload == nil {
		payload = []byte{}
	}
	if _, err := r.db.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payload, outboxPending, r.now().UTC(),
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending читает самые старые pending-события, не меняя их статус.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	rows, err := r.db.QueryContext(ctx, selectPendingOutboxSQL, outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, m)
	}
	return batch, rows.Err()
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		count  int
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, outboxBacklogSQL, outboxPending).Scan(&count, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox backlog: %w", err)
	}
	stats := domain.OutboxStats{PendingCount: count}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxSent)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxFailed)
}

// finish закрывает только pending-событие; повторная отметка возвращает ErrOutboxPublish.
func (r *outboxRepository) finish(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishOutboxSQL, id, status, r.now().UTC(), outboxPending)
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: outbox %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
