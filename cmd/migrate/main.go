// Команда migrate применяет и откатывает встроенные SQL-миграции PostgreSQL.
//
//	migrate [-dsn DSN] [-steps N] [-timeout 30s] up|down|status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "COD_POSTGRES_DSN"
)

type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

// openStore подменяется в тестах.
var openStore = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

type options struct {
	command string
	steps   int
	dsn     string
	timeout time.Duration
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}
	if err := execute(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		log.WithError(err).Fatal("migrate failed")
	}
}

func execute(args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseArgs(args, getenv)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := openStore(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("close postgres")
		}
	}()

	return run(ctx, store, opts, out)
}

func parseArgs(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN, defaults to $"+envPostgresDSN)
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply (up: 0 = all) or roll back (down: 0 = 1)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if fs.NArg() != 1 {
		return options{}, errors.New("expected exactly one command: up, down or status")
	}
	opts.command = strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	switch opts.command {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	if opts.dsn = strings.TrimSpace(opts.dsn); opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	switch {
	case opts.dsn == "":
		return options{}, fmt.Errorf("postgres dsn is required (-dsn or %s)", envPostgresDSN)
	case opts.steps < 0:
		return options{}, errors.New("steps must be >= 0")
	case opts.timeout <= 0:
		return options{}, errors.New("timeout must be > 0")
	}
	if opts.command == "down" && opts.steps == 0 {
		opts.steps = 1
	}
	return opts, nil
}

// run выполняет команду и печатает состояние схемы после неё.
func run(ctx context.Context, m migrator, opts options, out io.Writer) error {
	switch opts.command {
	case "up":
		if err := m.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("up: %w", err)
		}
	case "down":
		if err := m.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("down: %w", err)
		}
	}

	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	log.WithFields(log.Fields{
		"command": opts.command,
		"version": state.Version,
		"applied": state.Applied,
		"pending": state.Pending,
	}).Info("migrations done")
	_, err = fmt.Fprintf(out, "version=%d applied=%d pending=%d\n", state.Version, state.Applied, state.Pending)
	return err
}
