// Package postgres реализует хранилище заказов, оценок риска, звонков, трекинга,
// отложенных задач и outbox в PostgreSQL через драйвер pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const defaultConnTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула соединений.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig возвращает параметры пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *log.Entry
}

// Open открывает подключение с параметрами пула по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolConfig())
}

// OpenWithPool открывает подключение к PostgreSQL и проверяет доступность базы.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	defaults := DefaultPoolConfig()
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = defaults.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = pool.MaxOpenConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, logger: log.WithField("component", "postgres")}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения (используется readiness-проверкой).
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Repositories объединяет PostgreSQL-репозитории поверх одного Store.
type Repositories struct {
	Orders      domain.OrderRepository
	Customers   domain.CustomerRepository
	Assessments domain.AssessmentRepository
	Calls       domain.CallLogRepository
	Tracking    domain.TrackingHistoryRepository
	Tasks       domain.TaskRepository
	Outbox      domain.OutboxRepository
}

// Repositories создаёт все репозитории хранилища.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Orders:      NewOrderRepository(s),
		Customers:   NewCustomerRepository(s),
		Assessments: NewAssessmentRepository(s),
		Calls:       NewCallLogRepository(s),
		Tracking:    NewTrackingRepository(s),
		Tasks:       NewTaskRepository(s),
		Outbox:      NewOutboxRepository(s),
	}
}
