// Package scheduler выполняет персистентные отложенные задачи: повторы звонков и отложенные уведомления.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 50
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 30 * time.Second
	defaultLease          = 10 * time.Minute
	maxRetryDelay         = 6 * time.Hour
)

// Результаты запуска для метрики task_runs.
const (
	runDone        = "done"
	runRetry       = "retry"
	runFailed      = "failed"
	runUnknownKind = "unknown_kind"
)

type options struct {
	logger       *log.Entry
	metrics      *metrics.Metrics
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBase    time.Duration
	lease        time.Duration
	now          func() time.Time
}

// Option настраивает Worker.
type Option func(*options)

func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithPollInterval(interval time.Duration) Option {
	return func(o *options) { o.pollInterval = interval }
}

// WithBatchSize ограничивает число задач, захватываемых за один проход.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithMaxAttempts задаёт число запусков задачи до перевода в failed.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithRetryBaseDelay задаёт задержку после первой неудачи; дальше она удваивается.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(o *options) { o.retryBase = d }
}

// WithLease задаёт, через сколько захваченная задача считается брошенной
// и снова попадает в выборку. Должен превышать время работы обработчика.
func WithLease(d time.Duration) Option {
	return func(o *options) { o.lease = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryBase:    defaultRetryBaseDelay,
		lease:        defaultLease,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "task-scheduler")
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchSize
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = defaultMaxAttempts
	}
	o.retryBase = max(o.retryBase, 0)
	if o.lease <= 0 {
		o.lease = defaultLease
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Worker опрашивает хранилище задач и вызывает обработчики по виду задачи.
type Worker struct {
	repo domain.TaskRepository
	opts options

	mu       sync.RWMutex
	handlers map[domain.TaskKind]Handler
}

func NewWorker(repo domain.TaskRepository, opts ...Option) *Worker {
	return &Worker{repo: repo, opts: buildOptions(opts), handlers: make(map[domain.TaskKind]Handler)}
}

// Register связывает вид задачи с обработчиком; повторный вызов заменяет прежний.
func (w *Worker) Register(kind domain.TaskKind, handler Handler) {
	w.mu.Lock()
	w.handlers[kind] = handler
	w.mu.Unlock()
}

func (w *Worker) lookup(kind domain.TaskKind) Handler {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.handlers[kind]
}

// Run опрашивает хранилище до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil {
		w.opts.logger.Warn("task scheduler is disabled: no task repository")
		return
	}

	ticker := time.NewTicker(w.opts.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет созревшие задачи одного батча и возвращает их число.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	due, err := w.repo.ClaimDue(ctx, w.opts.now().UTC(), w.opts.lease, w.opts.batchSize)
	if err != nil {
		w.opts.logger.WithError(err).Warn("claim due tasks")
		return 0
	}
	for i, task := range due {
		if ctx.Err() != nil {
			w.release(ctx, due[i:])
			break
		}
		w.execute(ctx, task)
	}

	if ctx.Err() == nil {
		w.observeBacklog(ctx)
	}
	return len(due)
}

// release возвращает в очередь задачи, до которых воркер не дошёл из-за остановки.
func (w *Worker) release(ctx context.Context, tasks []domain.ScheduledTask) {
	store := context.WithoutCancel(ctx)
	for _, task := range tasks {
		if err := w.repo.Release(store, task.ID); err != nil {
			w.opts.logger.WithError(err).WithField("task_id", task.ID).Warn("release claimed task")
		}
	}
	w.opts.logger.WithField("count", len(tasks)).Info("claimed tasks returned to queue on shutdown")
}

func (w *Worker) execute(ctx context.Context, task domain.ScheduledTask) {
	entry := w.opts.logger.WithFields(log.Fields{
		"task_id":  task.ID,
		"kind":     task.Kind,
		"order_id": task.OrderID,
		"attempt":  task.Attempts,
	})

	handler := w.lookup(task.Kind)
	if handler == nil {
		entry.Error("no handler registered for task kind")
		w.fail(ctx, entry, task, runUnknownKind, fmt.Errorf("no handler for kind %s", task.Kind))
		return
	}

	err := w.call(ctx, handler, task)
	// Итог пишется и после отмены ctx.
	store := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		w.opts.metrics.RecordTaskRun(string(task.Kind), runDone)
		if err := w.repo.MarkDone(store, task.ID); err != nil {
			entry.WithError(err).Warn("mark task done")
		}
	case IsPermanent(err) || task.Attempts >= w.opts.maxAttempts:
		entry.WithError(err).Error("task failed permanently")
		w.fail(store, entry, task, runFailed, err)
	case ctx.Err() != nil:
		entry.WithError(err).Info("task interrupted by shutdown")
		w.release(ctx, []domain.ScheduledTask{task})
	default:
		next := w.opts.now().UTC().Add(w.backoff(task.Attempts))
		entry.WithError(err).WithField("due_at", next).Warn("task failed, will retry")
		w.opts.metrics.RecordTaskRun(string(task.Kind), runRetry)
		if err := w.repo.RetryLater(store, task.ID, err.Error(), next); err != nil {
			entry.WithError(err).Warn("reschedule task")
		}
	}
}

func (w *Worker) fail(ctx context.Context, entry *log.Entry, task domain.ScheduledTask, result string, cause error) {
	w.opts.metrics.RecordTaskRun(string(task.Kind), result)
	if err := w.repo.MarkFailed(ctx, task.ID, cause.Error()); err != nil {
		entry.WithError(err).Warn("mark task failed")
	}
}

// call превращает панику обработчика в постоянную ошибку задачи.
func (w *Worker) call(ctx context.Context, handler Handler, task domain.ScheduledTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("task handler panic: %v", r))
		}
	}()
	return handler(ctx, task)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.opts.logger.WithError(err).Warn("collect task backlog stats")
		return
	}
	var overdue time.Duration
	if stats.PendingCount > 0 && !stats.OldestDueAt.IsZero() {
		overdue = w.opts.now().Sub(stats.OldestDueAt)
	}
	w.opts.metrics.SetTaskBacklog(stats.PendingCount, overdue)
}

// backoff: base, 2*base, 4*base... но не больше maxRetryDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.opts.retryBase
	for i := 1; i < attempt && delay > 0 && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}
