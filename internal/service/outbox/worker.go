// Package outbox доставляет доменные события заказа из transactional outbox
// в брокер: публикация с повторами, перенос в DLQ и метрики backlog.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Результаты публикации для метрик.
const (
	resultSent      = "sent"
	resultRetry     = "retry_error"
	resultFailed    = "failed"
	resultDLQ       = "dlq"
	resultDLQFailed = "dlq_failed"
)

type options struct {
	logger         *log.Entry
	metrics        *metrics.Metrics
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*options)

func WithLogger(logger *log.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics подключает счётчики публикаций и gauge backlog.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDLQPublisher задаёт получателя событий, исчерпавших повторы.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(o *options) { o.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(o *options) { o.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(o *options) { o.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного события за цикл.
func WithMaxAttempts(attempts int) Option {
	return func(o *options) { o.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(o *options) { o.retryBaseDelay = delay }
}

// Result подводит итог одного цикла обработки.
type Result struct {
	Sent         int
	Failed       int
	DeadLettered int
}

// Worker публикует события RiskAssessed, OrderConfirmed, ShipmentStatusChanged и др.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	opts      options
}

// NewWorker создаёт воркер; нулевые и отрицательные параметры заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	o := options{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "outbox-worker")
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
	if o.retryBaseDelay < 0 {
		o.retryBaseDelay = 0
	}
	return &Worker{repo: repo, publisher: publisher, opts: o}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.opts.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.opts.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce публикует один батч pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) Result {
	var res Result
	if ctx.Err() != nil {
		return res
	}
	w.refreshBacklog(ctx)

	events, err := w.repo.PullPending(ctx, w.opts.batchSize)
	if err != nil {
		w.opts.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		logger := w.opts.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
			"order_id":   event.AggregateID,
		})

		attempts, err := w.publishWithRetry(ctx, event)
		if err == nil {
			res.Sent++
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				logger.WithError(markErr).Warn("failed to mark outbox as sent")
			}
			continue
		}
		if ctx.Err() != nil {
			// Событие остаётся pending и уйдёт в следующем запуске.
			break
		}

		res.Failed++
		w.opts.metrics.RecordOutboxPublish(resultFailed)
		logger.WithError(err).WithField("attempts", attempts).Error("outbox publish failed after retries")

		if w.opts.dlq != nil {
			if dlqErr := w.publishToDLQ(event, attempts, err); dlqErr != nil {
				w.opts.metrics.RecordOutboxPublish(resultDLQFailed)
				logger.WithError(dlqErr).Warn("failed to publish to DLQ")
			} else {
				res.DeadLettered++
				w.opts.metrics.RecordOutboxPublish(resultDLQ)
			}
		}
		if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark outbox as failed")
		}
	}

	if len(events) > 0 {
		w.refreshBacklog(ctx)
	}
	return res
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.opts.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			w.opts.metrics.RecordOutboxPublish(resultSent)
			return attempt, nil
		}
		w.opts.metrics.RecordOutboxPublish(resultRetry)
		if attempt == w.opts.maxAttempts {
			break
		}

		if delay := w.retryBackoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.opts.maxAttempts, fmt.Errorf("publish failed after %d attempts: %w", w.opts.maxAttempts, lastErr)
}

// retryBackoff удваивает паузу на каждой попытке, не превышая maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	delay := w.opts.retryBaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.opts.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.opts.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, attempts int, publishErr error) error {
	record := domain.OutboxDeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		Attempts:      attempts,
		LastError:     publishErr.Error(),
		FailedAt:      time.Now().UTC(),
	}
	if !json.Valid(event.Payload) {
		raw, _ := json.Marshal(string(event.Payload))
		record.Payload = raw
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	if err := w.opts.dlq.Publish(domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
