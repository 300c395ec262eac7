package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/storage/memory"
)

func riskAssessedEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "RiskAssessed",
		Payload:       []byte(`{"order_id":"` + orderID + `","tier":"MEDIUM","score":3}`),
	}
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{riskAssessedEvent("msg-1", "order-1")}}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	res := worker.ProcessOnce(context.Background())

	require.Equal(t, Result{Sent: 1}, res)
	require.Equal(t, []string{"msg-1"}, repo.sentIDs)
	require.Empty(t, repo.failedIDs)
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{{
		ID:            "msg-2",
		AggregateType: "order",
		AggregateID:   "order-2",
		EventType:     "ConfirmationEscalated",
		Payload:       []byte(`{"reason":"no_answer"}`),
	}}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}

	worker := NewWorker(repo, publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	res := worker.ProcessOnce(context.Background())

	require.Equal(t, Result{Failed: 1, DeadLettered: 1}, res)
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.sentIDs)
	require.Equal(t, []string{"msg-2"}, repo.failedIDs)
	require.Equal(t, 1, dlqPublisher.calls())

	var record domain.OutboxDeadLetter
	require.NoError(t, json.Unmarshal(dlqPublisher.last.Payload, &record))
	require.Equal(t, "msg-2", record.OutboxID)
	require.Equal(t, "order-2", record.AggregateID)
	require.Equal(t, 3, record.Attempts)
	require.Contains(t, record.LastError, "broker unavailable")
	require.JSONEq(t, `{"reason":"no_answer"}`, string(record.Payload))
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{riskAssessedEvent("msg-3", "order-3")}}
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	require.Equal(t, 3, publisher.calls())
	require.Len(t, repo.sentIDs, 1)
	require.Empty(t, repo.failedIDs)
}

func TestWorker_DrainsMemoryOutbox(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	for _, orderID := range []string{"o-1", "o-2", "o-3"} {
		_, err := repo.Enqueue(ctx, riskAssessedEvent("", orderID))
		require.NoError(t, err)
	}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithBatchSize(2), WithRetryBaseDelay(0))
	worker.ProcessOnce(ctx)
	require.Equal(t, 2, publisher.calls())

	worker.ProcessOnce(ctx)
	require.Equal(t, 3, publisher.calls())

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestWorker_RetryBackoffDoublesUpToCap(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(10*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))
	require.Equal(t, maxRetryDelay, worker.retryBackoff(64))

	noDelay := NewWorker(&stubOutboxRepo{}, &stubPublisher{}, WithRetryBaseDelay(-time.Second))
	require.Zero(t, noDelay.retryBackoff(3))
}

func TestWorker_FailureWithoutDLQ_RecordsMetrics(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{riskAssessedEvent("msg-5", "order-5")}}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")},
		WithMetrics(m), WithRetryBaseDelay(0), WithMaxAttempts(2))
	res := worker.ProcessOnce(context.Background())

	require.Equal(t, Result{Failed: 1}, res)
	require.Equal(t, []string{"msg-5"}, repo.failedIDs)
}

func TestWorker_DLQKeepsNonJSONPayloadAsString(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{{ID: "msg-6", AggregateID: "order-6", EventType: "Broken", Payload: []byte("not json")}}}
	dlq := &stubPublisher{}

	worker := NewWorker(repo, &stubPublisher{err: errors.New("down")},
		WithDLQPublisher(dlq), WithRetryBaseDelay(0), WithMaxAttempts(1))
	worker.ProcessOnce(context.Background())

	var record domain.OutboxDeadLetter
	require.NoError(t, json.Unmarshal(dlq.last.Payload, &record))
	require.Equal(t, `"not json"`, string(record.Payload))
}

func TestWorker_CancelledDuringBackoffLeavesEventPending(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{riskAssessedEvent("msg-7", "order-7")}}
	publisher := &stubPublisher{err: errors.New("down")}
	worker := NewWorker(repo, publisher, WithRetryBaseDelay(time.Hour), WithMaxAttempts(3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := worker.ProcessOnce(ctx)

	require.Equal(t, Result{}, res)
	require.Empty(t, repo.failedIDs)
	require.Equal(t, 1, publisher.calls())
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&stubOutboxRepo{}, &stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

type stubOutboxRepo struct {
	mu        sync.Mutex
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func (s *stubOutboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (s *stubOutboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit >= len(s.pending) {
		return append([]domain.OutboxMessage(nil), s.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), s.pending[:limit]...), nil
}

func (s *stubOutboxRepo) Stats(_ context.Context) (domain.OutboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(s.pending)}
	if len(s.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (s *stubOutboxRepo) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentIDs = append(s.sentIDs, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedIDs = append(s.failedIDs, id)
	return nil
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	last           domain.OutboxMessage
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.last = event
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		return err
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

var (
	_ domain.OutboxRepository = (*stubOutboxRepo)(nil)
	_ domain.OutboxPublisher  = (*stubPublisher)(nil)
)

func TestLogPublisher_DrainsOutboxWithoutBroker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewOutboxRepository()
	_, err := repo.Enqueue(ctx, riskAssessedEvent("", "o-9"))
	require.NoError(t, err)

	worker := NewWorker(repo, NewLogPublisher(nil), WithRetryBaseDelay(0))
	worker.ProcessOnce(ctx)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}
