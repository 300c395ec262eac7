package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg      domain.OutboxMessage
	state    outboxState
	attempts int
	queuedAt time.Time
}

// outboxRepositoryInMemory держит события в порядке постановки в очередь.
type outboxRepositoryInMemory struct {
	mu    sync.RWMutex
	queue []*outboxEntry
	byID  map[string]*outboxEntry
	now   func() time.Time
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{byID: make(map[string]*outboxEntry), now: time.Now}
}

func (r *outboxRepositoryInMemory) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.byID[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already queued", msg.ID)
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	entry := &outboxEntry{msg: msg, queuedAt: r.now().UTC()}
	r.queue = append(r.queue, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending отдаёт до limit pending-событий, начиная с самых старых.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.pending(limit), nil
}

func (r *outboxRepositoryInMemory) pending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, e := range r.queue {
		if e.state != outboxPending {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e.msg)
	}
	return out
}

func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.queue {
		if e.state != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.queuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.finish(id, outboxSent)
}

func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.finish(id, outboxFailed)
}

func (r *outboxRepositoryInMemory) finish(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.state != outboxPending {
		return domain.ErrOutboxPublish
	}
	e.state = state
	e.attempts++
	return nil
}

// AllPending возвращает все неотправленные события; удобно в тестах сервисов.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	return r.pending(0)
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
