package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/codconfirm/internal/health"
)

func localConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = freeAddr(t)
	cfg.StorageDriver = StorageDriverMemory
	cfg.KafkaBrokers = ""
	return cfg
}

func TestRun_ServesAPIAndStopsOnCancel(t *testing.T) {
	cfg := localConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()

	resp := getUntilUp(t, fmt.Sprintf("http://%s/api/orders/unknown", cfg.HTTPAddr))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ready := getUntilUp(t, fmt.Sprintf("http://%s/readyz", cfg.MetricsAddr))
	_ = ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run kept running after cancel")
	}
}

func TestRun_RejectsUnknownStorage(t *testing.T) {
	cfg := localConfig(t)
	cfg.StorageDriver = "invalid-driver"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COD_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("COD_POSTGRES_TEST_DSN is not set")
	}
	logger := log.WithField("test", "postgres-init")

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer deps.close(logger)

	assert.NotNil(t, deps.repos.orders)
	assert.NotNil(t, deps.repos.tasks)
	assert.NotNil(t, deps.repos.outbox)
	require.NotNil(t, deps.storageChecker)
	assert.Equal(t, healthcheck.StatusHealthy, deps.storageChecker.Check(context.Background()).Status)
}

func TestShutdownHelpers_NilSafe(_ *testing.T) {
	logger := log.WithField("test", "shutdown")

	grpcServer, healthServer := newAdminServer(logger)
	stopGRPC(grpcServer, healthServer, logger)

	closeKafka(nil, logger)
	stopConsumer(nil, logger)
}
