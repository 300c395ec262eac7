// Package escalation передаёт нерешённые заказы в очередь колл-центра.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// SlackPoster покрывает часть клиента Slack, нужную очереди.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackQueue публикует записи эскалации в канал колл-центра.
type SlackQueue struct {
	client  SlackPoster
	channel string
	logger  *log.Entry
}

// NewSlackQueue создаёт очередь поверх Slack-канала.
func NewSlackQueue(client SlackPoster, channel string, logger *log.Entry) *SlackQueue {
	if logger == nil {
		logger = log.WithField("component", "escalation-slack")
	}
	return &SlackQueue{client: client, channel: channel, logger: logger}
}

// NewSlackClient создаёт клиента Slack по токену бота.
func NewSlackClient(token string) *slack.Client {
	return slack.New(token)
}

func (q *SlackQueue) Push(ctx context.Context, record domain.EscalationRecord) error {
	_, ts, err := q.client.PostMessageContext(ctx, q.channel, slack.MsgOptionText(FormatRecord(record), false))
	if err != nil {
		return fmt.Errorf("post escalation to slack: %w", err)
	}
	q.logger.WithFields(log.Fields{"order_id": record.OrderID, "ts": ts}).Debug("escalation posted")
	return nil
}

// FormatRecord собирает текст сообщения для оператора.
func FormatRecord(record domain.EscalationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":telephone_receiver: *%s* order %s\n", record.Priority, firstNonEmpty(record.OrderNumber, record.OrderID))
	fmt.Fprintf(&b, "*Reason:* %s\n", record.Reason)
	fmt.Fprintf(&b, "*Customer:* %s (%s)\n", record.CustomerName, record.CustomerPhone)
	fmt.Fprintf(&b, "*Address:* %s\n", record.Address)
	fmt.Fprintf(&b, "*Items:* %d  *COD:* %.2f %s", record.ItemCount, float64(record.AmountMinor)/100, record.Currency)
	return b.String()
}

// EventPublisher публикует JSON-события (kafka.Producer).
type EventPublisher interface {
	PublishEvent(topic string, key string, event any) error
}

// TopicQueue публикует записи эскалации в Kafka topic.
type TopicQueue struct {
	publisher EventPublisher
	topic     string
}

// NewTopicQueue создаёт очередь поверх Kafka topic.
func NewTopicQueue(publisher EventPublisher, topic string) *TopicQueue {
	return &TopicQueue{publisher: publisher, topic: topic}
}

func (q *TopicQueue) Push(ctx context.Context, record domain.EscalationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.publisher.PublishEvent(q.topic, record.OrderID, record); err != nil {
		return fmt.Errorf("publish escalation: %w", err)
	}
	return nil
}

// LogQueue пишет записи в лог (режим разработки).
type LogQueue struct {
	logger *log.Entry
}

// NewLogQueue создаёт очередь-журнал.
func NewLogQueue(logger *log.Entry) *LogQueue {
	if logger == nil {
		logger = log.WithField("component", "escalation")
	}
	return &LogQueue{logger: logger}
}

func (q *LogQueue) Push(_ context.Context, record domain.EscalationRecord) error {
	q.logger.WithFields(log.Fields{
		"order_id": record.OrderID,
		"reason":   record.Reason,
		"priority": record.Priority,
	}).Warn("order escalated to call center")
	return nil
}

// FanOut отправляет запись во все очереди; успех хотя бы одной считается успехом.
type FanOut struct {
	queues []domain.EscalationQueue
	logger *log.Entry
}

// NewFanOut объединяет несколько очередей.
func NewFanOut(logger *log.Entry, queues ...domain.EscalationQueue) *FanOut {
	if logger == nil {
		logger = log.WithField("component", "escalation")
	}
	return &FanOut{queues: queues, logger: logger}
}

func (f *FanOut) Push(ctx context.Context, record domain.EscalationRecord) error {
	if len(f.queues) == 0 {
		return nil
	}

	var errs []error
	for _, q := range f.queues {
		if err := q.Push(ctx, record); err != nil {
			f.logger.WithError(err).WithField("order_id", record.OrderID).Warn("escalation queue rejected record")
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f.queues) {
		return errors.Join(errs...)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ domain.EscalationQueue = (*SlackQueue)(nil)
	_ domain.EscalationQueue = (*TopicQueue)(nil)
	_ domain.EscalationQueue = (*LogQueue)(nil)
	_ domain.EscalationQueue = (*FanOut)(nil)
	_ SlackPoster            = (*slack.Client)(nil)
)
