package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsGlob = "sql/migrations/*.sql"
	// migrationLockKey задаёт ключ pg_advisory_lock, общий для всех реплик.
	migrationLockKey  = int64(20260301)
	migrationTimeout  = 5 * time.Second
	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFilePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		done := 0
		for _, m := range migrations {
			if applied[m.Version] {
				continue
			}
			if err := runMigration(ctx, conn, m, m.UpSQL, true); err != nil {
				return err
			}
			s.logger.WithField("migration", m.String()).Info("migration applied")
			done++
			if steps > 0 && done >= steps {
				break
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	return s.withMigrationLock(ctx, func(conn *sql.Conn) error {
		versions, err := latestVersions(ctx, conn, steps)
		if err != nil {
			return err
		}
		for _, version := range versions {
			m, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			if err := runMigration(ctx, conn, m, m.DownSQL, false); err != nil {
				return err
			}
			s.logger.WithField("migration", m.String()).Info("migration rolled back")
		}
		return nil
	})
}

// MigrationStatus возвращает текущую версию, число применённых и ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}

	var state MigrationState
	if err := s.db.QueryRowContext(queryCtx, `
		SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations
	`).Scan(&state.Version, &state.Applied); err != nil {
		return MigrationState{}, fmt.Errorf("query migration status: %w", err)
	}
	if pending := len(migrations) - state.Applied; pending > 0 {
		state.Pending = pending
	}
	return state, nil
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// runMigration выполняет тело миграции и запись в schema_migrations одной транзакцией.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, body string, up bool) (err error) {
	direction := "down"
	if up {
		direction = "up"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s %s): %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m, err)
	}
	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`, m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	versions, err := queryVersions(ctx, conn, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	result := make(map[int64]bool, len(versions))
	for _, v := range versions {
		result[v] = true
	}
	return result, nil
}

func latestVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	return queryVersions(ctx, conn, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
}

func queryVersions(ctx context.Context, conn *sql.Conn, query string, args ...any) ([]int64, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// loadMigrationsFromFS собирает пары up/down, отсортированные по версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFilePattern.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}
		name, direction := parts[2], parts[3]

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		} else if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == "down" {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
