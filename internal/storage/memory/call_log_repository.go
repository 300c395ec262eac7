package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// callLogRepositoryInMemory хранит попытки звонков по заказам.
type callLogRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.CallLog
}

// NewCallLogRepository создаёт in-memory реализацию CallLogRepository.
func NewCallLogRepository() domain.CallLogRepository {
	return &callLogRepositoryInMemory{byOrder: make(map[string][]domain.CallLog)}
}

// Reserve добавляет попытку строго со следующим номером.
func (r *callLogRepositoryInMemory) Reserve(_ context.Context, call domain.CallLog) (domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byOrder[call.OrderID]
	if call.AttemptNumber != len(existing)+1 {
		return domain.CallLog{}, fmt.Errorf("%w: order %s has %d attempts, got attempt %d",
			domain.ErrCallAttemptConflict, call.OrderID, len(existing), call.AttemptNumber)
	}

	now := time.Now().UTC()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CallStatus == "" {
		call.CallStatus = domain.CallStatusReserved
	}
	call.CreatedAt = now
	call.UpdatedAt = now
	r.byOrder[call.OrderID] = append(existing, call)
	return call, nil
}

func (r *callLogRepositoryInMemory) Count(_ context.Context, orderID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOrder[orderID]), nil
}

func (r *callLogRepositoryInMemory) MarkPlaced(_ context.Context, id, callSID string) error {
	return r.update(func(c *domain.CallLog) bool { return c.ID == id }, func(c *domain.CallLog) {
		c.CallSID = callSID
		c.CallStatus = domain.CallStatusQueued
	})
}

func (r *callLogRepositoryInMemory) MarkFailed(_ context.Context, id, reason string) error {
	return r.update(func(c *domain.CallLog) bool { return c.ID == id }, func(c *domain.CallLog) {
		c.CallStatus = domain.CallStatusFailed
		c.Error = reason
	})
}

// UpdateStatus обновляет попытку с данным SID или последнюю, если SID пуст.
func (r *callLogRepositoryInMemory) UpdateStatus(_ context.Context, orderID, callSID string, status domain.CallStatus) (domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.byOrder[orderID]
	idx := -1
	if callSID == "" {
		idx = len(calls) - 1
	} else {
		for i := range calls {
			if calls[i].CallSID == callSID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return domain.CallLog{}, domain.ErrCallLogNotFound
	}

	calls[idx].CallStatus = status
	calls[idx].UpdatedAt = time.Now().UTC()
	return calls[idx], nil
}

// RecordResponse сохраняет ответ клиента в последнюю попытку.
func (r *callLogRepositoryInMemory) RecordResponse(_ context.Context, orderID string, response domain.CallResponse) (domain.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.byOrder[orderID]
	if len(calls) == 0 {
		return domain.CallLog{}, domain.ErrCallLogNotFound
	}
	last := &calls[len(calls)-1]
	last.Digits = response.Digits
	last.SpeechResult = response.SpeechResult
	last.Confidence = response.Confidence
	last.Intent = response.Intent
	at := response.RespondedAt
	last.RespondedAt = &at
	last.UpdatedAt = time.Now().UTC()
	return *last, nil
}

func (r *callLogRepositoryInMemory) ListByOrder(_ context.Context, orderID string) ([]domain.CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := r.byOrder[orderID]
	result := make([]domain.CallLog, len(calls))
	copy(result, calls)
	return result, nil
}

func (r *callLogRepositoryInMemory) Latest(_ context.Context, orderID string) (domain.CallLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := r.byOrder[orderID]
	if len(calls) == 0 {
		return domain.CallLog{}, domain.ErrCallLogNotFound
	}
	return calls[len(calls)-1], nil
}

func (r *callLogRepositoryInMemory) update(match func(*domain.CallLog) bool, apply func(*domain.CallLog)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for orderID := range r.byOrder {
		calls := r.byOrder[orderID]
		for i := range calls {
			if match(&calls[i]) {
				apply(&calls[i])
				calls[i].UpdatedAt = time.Now().UTC()
				return nil
			}
		}
	}
	return domain.ErrCallLogNotFound
}

var _ domain.CallLogRepository = (*callLogRepositoryInMemory)(nil)
