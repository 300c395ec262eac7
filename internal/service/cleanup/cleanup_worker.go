// Package cleanup удаляет завершённые отложенные задачи по cron-расписанию.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const (
	defaultSchedule  = "@every 10m"
	defaultRetention = 7 * 24 * time.Hour
	defaultBatchSize = 500
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codconfirm_task_cleanup_runs_total",
		Help: "Total number of scheduled task cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codconfirm_task_cleanup_deleted_total",
		Help: "Total number of deleted finished scheduled tasks.",
	})
	cleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codconfirm_task_cleanup_last_deleted",
		Help: "Number of deleted tasks during the last cleanup run.",
	})
)

// Options задаёт параметры воркера очистки.
type Options struct {
	Logger    *log.Entry
	Schedule  string
	Retention time.Duration
	BatchSize int
	Clock     func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithSchedule задаёт cron-выражение запуска (поддерживает @every).
func WithSchedule(spec string) Option {
	return func(opts *Options) {
		opts.Schedule = spec
	}
}

// WithRetention задаёт, сколько хранить завершённые задачи.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// WithBatchSize задаёт размер batch для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Worker периодически удаляет done/failed задачи старше окна хранения.
type Worker struct {
	repo      domain.TaskRepository
	logger    *log.Entry
	schedule  string
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер очистки отложенных задач.
func NewWorker(repo domain.TaskRepository, options ...Option) *Worker {
	opts := Options{
		Schedule:  defaultSchedule,
		Retention: defaultRetention,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "task-cleanup-worker")
	}
	if opts.Schedule == "" {
		opts.Schedule = defaultSchedule
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Worker{
		repo:      repo,
		logger:    logger,
		schedule:  opts.Schedule,
		retention: opts.Retention,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run выполняет очистку сразу и затем по расписанию до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	if w.repo == nil {
		w.logger.Warn("task cleanup worker is disabled: repo is nil")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.cleanup(ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", w.schedule, err)
	}

	w.cleanup(ctx)
	c.Start()
	w.logger.WithField("schedule", w.schedule).Info("task cleanup scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteFinished(ctx, w.now().UTC().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("task cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("task cleanup completed")
	}
}

// DeleteFinished удаляет все завершённые задачи, обновлённые до before, порциями batchSize.
func (w *Worker) DeleteFinished(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC().Add(-w.retention)
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteFinished(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			cleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			break
		}
	}
	return total, nil
}
