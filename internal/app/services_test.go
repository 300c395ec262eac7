package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
)

func newMemoryServices(t *testing.T) (*services, repositories) {
	t.Helper()

	logger := log.WithField("test", t.Name())
	deps, err := initRuntimeDependencies(context.Background(), Config{StorageDriver: StorageDriverMemory}, logger)
	require.NoError(t, err)

	svc, err := buildServices(DefaultConfig(), deps.repos, nil, metrics.NewWithRegisterer(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	return svc, deps.repos
}

func TestBuildServices_BlockedCustomerFlow(t *testing.T) {
	svc, repos := newMemoryServices(t)
	ctx := context.Background()

	require.NoError(t, repos.customers.Create(ctx, domain.Customer{
		ID:        "c-blocked",
		Name:      "Ana",
		Phone:     "+34600000000",
		Status:    domain.CustomerBlocked,
		IsBlocked: true,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, repos.orders.Create(ctx, domain.Order{
		ID:          "o-blocked",
		Number:      "2001",
		CustomerID:  "c-blocked",
		AmountMinor: 3000,
		Currency:    "EUR",
		Items:       []domain.OrderItem{{ID: "i-1", ProductID: "p-1", Name: "Zapatillas", Qty: 1, PriceMinor: 3000}},
		ShippingAddress: domain.Address{
			FullName:   "Ana",
			Street:     "Calle Mayor 5",
			City:       "Madrid",
			PostalCode: "28013",
			Country:    "ES",
		},
	}))

	assessment, err := svc.engine.Assess(ctx, "o-blocked")
	require.NoError(t, err)
	require.Equal(t, domain.RiskTierBlocked, assessment.Tier)

	order, err := repos.orders.Get(ctx, "o-blocked")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.OrderStatus)

	stats, err := repos.outbox.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)

	// без брокера события уходят в лог и outbox пустеет
	svc.outbox.ProcessOnce(ctx)
	stats, err = repos.outbox.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func TestBuildServices_SchedulerHandlesRegisteredKinds(t *testing.T) {
	svc, repos := newMemoryServices(t)
	ctx := context.Background()

	for _, kind := range []domain.TaskKind{domain.TaskCallRetry, domain.TaskChatNotification} {
		_, err := repos.tasks.Schedule(ctx, domain.ScheduledTask{
			Kind:    kind,
			OrderID: "missing",
			Payload: []byte(`{"order_id":"missing"}`),
			DueAt:   time.Now().Add(-time.Second),
		})
		require.NoError(t, err)
	}

	require.Equal(t, 2, svc.scheduler.ProcessOnce(ctx))

	tasks, err := repos.tasks.ListByOrder(ctx, "missing")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		require.NotEqual(t, domain.TaskStatusRunning, task.Status, "task %s left running", task.Kind)
	}
}

func TestEscalationQueue_AlwaysLogs(t *testing.T) {
	queue := escalationQueue(Config{}, nil, log.WithField("test", "escalation"))
	require.NoError(t, queue.Push(context.Background(), domain.EscalationRecord{OrderID: "o-1", Reason: "manual"}))
}

func TestSenders_FallBackToLog(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	logger := log.WithField("test", "senders")

	_, err := smsSender(Config{}, nil, m, logger).Send(context.Background(), "+34600000000", "hola")
	require.NoError(t, err)
	_, err = chatSender(Config{}, m, logger).Send(context.Background(), "+34600000000", "hola")
	require.NoError(t, err)
}
