package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

func outboxEvent(orderID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	}
}

func TestOutboxRepository_PostgresPublishCycle(t *testing.T) {
	store := integrationStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	generated, err := repo.Enqueue(ctx, outboxEvent("order-1", domain.EventRiskAssessed))
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID)

	fixed := outboxEvent("order-2", domain.EventShipmentStatusChanged)
	fixed.ID = "outbox-fixed"
	stored, err := repo.Enqueue(ctx, fixed)
	require.NoError(t, err)
	assert.Equal(t, "outbox-fixed", stored.ID)

	_, err = repo.Enqueue(ctx, fixed)
	assert.Error(t, err, "duplicate id")

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, generated.ID, pending[0].ID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(pending[0].Payload))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.WithinDuration(t, time.Now(), stats.OldestPendingAt, time.Minute)

	require.NoError(t, repo.MarkSent(ctx, generated.ID))
	require.NoError(t, repo.MarkFailed(ctx, stored.ID))

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	var attempts int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT attempt_count FROM outbox_messages WHERE id = $1`, generated.ID).Scan(&attempts))
	assert.Equal(t, 1, attempts)
}

func TestOutboxRepository_PostgresFinishRequiresPending(t *testing.T) {
	store := integrationStore(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	assert.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxPublish)

	msg, err := repo.Enqueue(ctx, outboxEvent("order-3", domain.EventRiskAssessed))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(ctx, msg.ID))
	assert.ErrorIs(t, repo.MarkFailed(ctx, msg.ID), domain.ErrOutboxPublish)
}

func TestOutboxRepository_PostgresPullRespectsLimitAndAge(t *testing.T) {
	store := integrationStore(t)
	repo := NewOutboxRepository(store).(*outboxRepository)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, order := range []string{"order-old", "order-mid", "order-new"} {
		at := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return at }
		_, err := repo.Enqueue(ctx, outboxEvent(order, domain.EventRiskAssessed))
		require.NoError(t, err)
	}

	batch, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "order-old", batch[0].AggregateID)
	assert.Equal(t, "order-mid", batch[1].AggregateID)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.True(t, base.Equal(stats.OldestPendingAt), "oldest=%s", stats.OldestPendingAt)
}
