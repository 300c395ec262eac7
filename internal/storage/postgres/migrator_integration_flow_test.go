package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireMigrationState(t *testing.T, ctx context.Context, store *Store, version int64, applied int) {
	t.Helper()
	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, state.Version, "version")
	assert.Equal(t, applied, state.Applied, "applied")
}

func TestMigrator_PostgresUpDownCycle(t *testing.T) {
	store := rawIntegrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	t.Cleanup(func() {
		_ = store.MigrateUp(context.Background(), 0)
	})

	require.NoError(t, store.MigrateDown(ctx, 100))
	state, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Pending)
	requireMigrationState(t, ctx, store, 0, 0)

	require.NoError(t, store.MigrateUp(ctx, 0))
	requireMigrationState(t, ctx, store, 1, 1)

	require.NoError(t, store.MigrateUp(ctx, 0), "second up is a no-op")
	requireMigrationState(t, ctx, store, 1, 1)

	require.NoError(t, store.MigrateDown(ctx, 0), "zero steps rolls back one")
	requireMigrationState(t, ctx, store, 0, 0)

	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema")
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, store.MigrateUp(ctx, 0))
	assert.Error(t, store.MigrateDown(ctx, 1))
	_, err := store.MigrationStatus(ctx)
	assert.Error(t, err)
}
