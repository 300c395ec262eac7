package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение топика.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неустранимую: сообщение уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// DeadLetter описывает запись DLQ о сообщении, которое consumer не смог обработать.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

type consumerOptions struct {
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
	initial    int64
	logger     *log.Entry
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*consumerOptions)

// WithDLQ включает перенос сообщений в TopicDeadLetterQueue.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(o *consumerOptions) { o.dlq = producer }
}

// WithMaxRetries задаёт общее число попыток с учётом x-retry-count.
func WithMaxRetries(n int) ConsumerOption {
	return func(o *consumerOptions) { o.maxRetries = n }
}

func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) { o.retryDelay = d }
}

// WithOldestOffset читает новую группу с начала топика.
func WithOldestOffset() ConsumerOption {
	return func(o *consumerOptions) { o.initial = sarama.OffsetOldest }
}

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(o *consumerOptions) { o.logger = logger }
}

// Consumer читает consumer group и отдаёт сообщения MessageHandler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	opts    consumerOptions
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewConsumer подключается к брокерам как участник groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	o := buildConsumerOptions(opts)

	cfg := sarama.NewConfig()
	cfg.ClientID = "codconfirm-consumer"
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = o.initial
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %q: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, o), nil
}

func buildConsumerOptions(opts []ConsumerOption) consumerOptions {
	o := consumerOptions{
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		initial:    sarama.OffsetNewest,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries <= 0 {
		o.maxRetries = 1
	}
	if o.retryDelay < 0 {
		o.retryDelay = 0
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "kafka-consumer")
	}
	return o
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, o consumerOptions) *Consumer {
	return &Consumer{group: group, topics: topics, handler: handler, opts: o, now: time.Now}
}

// Start запускает чтение в фоне; сессии пересоздаются после каждого rebalance.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.opts.logger.WithError(err).Error("consumer session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.opts.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.opts.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.wg.Wait()
	c.opts.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim подтверждает сообщение только после успешной обработки или переноса в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.opts.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.process(ctx, message); err != nil {
				entry.WithError(err).Error("message left unacknowledged")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает handler, пока не кончатся попытки, и отдаёт остаток в DLQ.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempt := retryCount(message)
	var err error
	for {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		attempt++
		if IsPermanent(err) || attempt >= c.opts.maxRetries {
			break
		}
		c.opts.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": attempt,
			"max":     c.opts.maxRetries,
		}).Warn("message handler failed, retrying")

		if c.opts.retryDelay > 0 {
			timer := time.NewTimer(c.opts.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if c.opts.dlq == nil {
		return err
	}
	if dlqErr := c.deadLetter(message, attempt, err); dlqErr != nil {
		return fmt.Errorf("dead-letter %s/%d: %w", message.Topic, message.Offset, dlqErr)
	}
	c.opts.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"attempts": attempt,
	}).Warn("message moved to DLQ")
	return nil
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempts int, cause error) error {
	record := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          c.now().UTC().Format(time.RFC3339),
		RetryCount:        attempts,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return c.opts.dlq.PublishRaw(TopicDeadLetterQueue, record.OriginalKey, value, map[string]string{
		HeaderOriginalTopic: record.OriginalTopic,
		HeaderErrorMessage:  record.ErrorMessage,
		HeaderFailedAt:      record.FailedAt,
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
}

// retryCount читает x-retry-count; повторно проигранное сообщение продолжает счёт.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
			return n
		}
		return 0
	}
	return 0
}

// OrderAssessor запускает оценку риска заказа.
type OrderAssessor interface {
	Assess(ctx context.Context, orderID string) (domain.RiskAssessment, error)
}

// NewOrderPlacedHandler превращает событие нового заказа в оценку риска.
// Битое событие сразу уходит в DLQ, неизвестный заказ подтверждается без повторов.
func NewOrderPlacedHandler(assessor OrderAssessor, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "order-placed-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseOrderPlaced(message)
		if err != nil {
			return Permanent(err)
		}

		assessment, err := assessor.Assess(ctx, event.OrderID)
		switch {
		case domain.IsNotFound(err):
			logger.WithError(err).WithField("order_id", event.OrderID).Warn("order placed event for unknown order")
			return nil
		case err != nil:
			return fmt.Errorf("assess order %s: %w", event.OrderID, err)
		}

		logger.WithFields(log.Fields{
			"order_id":      event.OrderID,
			"assessment_id": assessment.ID,
			"tier":          assessment.Tier,
		}).Info("order assessed from kafka")
		return nil
	}
}
