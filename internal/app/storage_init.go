package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/codconfirm/internal/health"
	"github.com/vladislavdragonenkov/codconfirm/internal/storage/memory"
	"github.com/vladislavdragonenkov/codconfirm/internal/storage/postgres"
)

// repositories объединяет хранилища, общие для всех сервисов процесса.
type repositories struct {
	orders      domain.OrderRepository
	customers   domain.CustomerRepository
	assessments domain.AssessmentRepository
	calls       domain.CallLogRepository
	tracking    domain.TrackingHistoryRepository
	tasks       domain.TaskRepository
	outbox      domain.OutboxRepository
}

type runtimeDependencies struct {
	repos          repositories
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies выбирает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		orders := memory.NewOrderRepository()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repos: repositories{
				orders:      orders,
				customers:   memory.NewCustomerRepository(),
				assessments: memory.NewAssessmentRepository(orders),
				calls:       memory.NewCallLogRepository(),
				tracking:    memory.NewTrackingRepository(),
				tasks:       memory.NewTaskRepository(),
				outbox:      memory.NewOutboxRepository(),
			},
		}, nil
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("postgres storage requires COD_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	state, err := store.MigrationStatus(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if state.Pending > 0 {
		logger.WithField("pending", state.Pending).Warn("database schema has pending migrations")
	}
	logger.WithField("schema_version", state.Version).Info("using postgres storage")

	repos := store.Repositories()
	return &runtimeDependencies{
		repos: repositories{
			orders:      repos.Orders,
			customers:   repos.Customers,
			assessments: repos.Assessments,
			calls:       repos.Calls,
			tracking:    repos.Tracking,
			tasks:       repos.Tasks,
			outbox:      repos.Outbox,
		},
		storageChecker: healthcheck.NewFuncChecker("postgres", store.Ping),
		closeFn:        store.Close,
	}, nil
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
