package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// trackingRepositoryInMemory хранит журнал событий перевозчика (для разработки/тестов).
type trackingRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string][]domain.TrackingHistoryEntry
}

// NewTrackingRepository создаёт in-memory реализацию TrackingHistoryRepository.
func NewTrackingRepository() domain.TrackingHistoryRepository {
	return &trackingRepositoryInMemory{entries: make(map[string][]domain.TrackingHistoryEntry)}
}

// Append добавляет событие; повторы не схлопываются.
func (r *trackingRepositoryInMemory) Append(_ context.Context, entry domain.TrackingHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries[entry.OrderID] = append(r.entries[entry.OrderID], entry)
	return nil
}

// ListByOrder возвращает события заказа в хронологическом порядке.
func (r *trackingRepositoryInMemory) ListByOrder(_ context.Context, orderID string) ([]domain.TrackingHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[orderID]
	result := make([]domain.TrackingHistoryEntry, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EventTime.Before(result[j].EventTime)
	})
	return result, nil
}

var _ domain.TrackingHistoryRepository = (*trackingRepositoryInMemory)(nil)
