package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/storage/postgres"
)

type stubMigrator struct {
	calls  []string
	state  postgres.MigrationState
	err    error
	closed bool
}

func (m *stubMigrator) MigrateUp(_ context.Context, steps int) error {
	m.calls = append(m.calls, "up:"+strings.Repeat("+", steps))
	return m.err
}

func (m *stubMigrator) MigrateDown(_ context.Context, steps int) error {
	m.calls = append(m.calls, "down:"+strings.Repeat("-", steps))
	return m.err
}

func (m *stubMigrator) MigrationStatus(context.Context) (postgres.MigrationState, error) {
	m.calls = append(m.calls, "status")
	return m.state, nil
}

func (m *stubMigrator) Close() error {
	m.closed = true
	return nil
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func stubOpen(t *testing.T, m migrator, err error) {
	t.Helper()
	prev := openStore
	openStore = func(context.Context, string) (migrator, error) { return m, err }
	t.Cleanup(func() { openStore = prev })
}

func TestParseArgs(t *testing.T) {
	withDSN := env(map[string]string{envPostgresDSN: " postgres://env "})

	opts, err := parseArgs([]string{"up"}, withDSN)
	require.NoError(t, err)
	assert.Equal(t, options{command: "up", dsn: "postgres://env", timeout: defaultTimeout}, opts)

	opts, err = parseArgs([]string{"-dsn", "postgres://flag", "-timeout", "5s", "DOWN"}, withDSN)
	require.NoError(t, err)
	assert.Equal(t, "down", opts.command)
	assert.Equal(t, "postgres://flag", opts.dsn)
	assert.Equal(t, 1, opts.steps, "down rolls back one migration by default")
	assert.Equal(t, 5*time.Second, opts.timeout)

	opts, err = parseArgs([]string{"-steps=2", "down"}, withDSN)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.steps)
}

func TestParseArgs_Errors(t *testing.T) {
	tests := map[string]struct {
		args []string
		env  map[string]string
	}{
		"no command":      {args: nil, env: map[string]string{envPostgresDSN: "x"}},
		"two commands":    {args: []string{"up", "down"}, env: map[string]string{envPostgresDSN: "x"}},
		"unknown command": {args: []string{"sideways"}, env: map[string]string{envPostgresDSN: "x"}},
		"missing dsn":     {args: []string{"status"}},
		"negative steps":  {args: []string{"-steps=-1", "up"}, env: map[string]string{envPostgresDSN: "x"}},
		"zero timeout":    {args: []string{"-timeout=0s", "up"}, env: map[string]string{envPostgresDSN: "x"}},
		"unknown flag":    {args: []string{"-direction=up"}, env: map[string]string{envPostgresDSN: "x"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseArgs(tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestRun(t *testing.T) {
	m := &stubMigrator{state: postgres.MigrationState{Version: 1, Applied: 1}}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), m, options{command: "up", steps: 2}, &out))
	require.NoError(t, run(context.Background(), m, options{command: "down", steps: 1}, &out))
	require.NoError(t, run(context.Background(), m, options{command: "status"}, &out))

	assert.Equal(t, []string{"up:++", "status", "down:-", "status", "status"}, m.calls)
	assert.Equal(t, strings.Repeat("version=1 applied=1 pending=0\n", 3), out.String())
}

func TestRun_WrapsMigrationError(t *testing.T) {
	boom := errors.New("lock timeout")
	m := &stubMigrator{err: boom}

	err := run(context.Background(), m, options{command: "down", steps: 1}, &bytes.Buffer{})
	require.ErrorIs(t, err, boom)
	assert.NotContains(t, m.calls, "status")
}

func TestExecute_ClosesStore(t *testing.T) {
	m := &stubMigrator{state: postgres.MigrationState{Version: 1, Applied: 1}}
	stubOpen(t, m, nil)

	var out bytes.Buffer
	require.NoError(t, execute([]string{"-dsn=postgres://stub", "status"}, env(nil), &out))
	assert.True(t, m.closed)
	assert.Contains(t, out.String(), "version=1")
}

func TestExecute_OpenError(t *testing.T) {
	stubOpen(t, nil, errors.New("connection refused"))

	err := execute([]string{"-dsn=postgres://stub", "up"}, env(nil), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExecute_PostgresStatus(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("COD_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("COD_POSTGRES_TEST_DSN is not set")
	}
	var out bytes.Buffer
	require.NoError(t, execute([]string{"-dsn", dsn, "up"}, env(nil), &out))
	assert.Contains(t, out.String(), "pending=0")
}
