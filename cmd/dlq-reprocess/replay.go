package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/messaging/kafka"
)

// offsetSource отдаёт границы партиций (часть sarama.Client).
type offsetSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

// rawPublisher реализуется kafka.Producer.
type rawPublisher interface {
	PublishRaw(topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

type replayer struct {
	cfg    config
	deps   kafkaDeps
	logger *log.Entry
	now    func() time.Time
	stats  replayStats
}

// replayTopic обходит партиции по возрастанию, пока не исчерпан общий limit.
func (r *replayer) replayTopic(ctx context.Context) error {
	if r.deps.offsets == nil || r.deps.opener == nil {
		return errors.New("kafka client and consumer are required")
	}
	if r.cfg.execute && r.deps.publisher == nil {
		return errors.New("execute mode needs a publisher")
	}

	partitions, err := r.deps.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, p := range partitions {
		budget := r.cfg.limit - r.stats.scanned
		if budget <= 0 {
			break
		}
		if err := r.replayPartition(ctx, p, budget); err != nil {
			return err
		}
	}
	return nil
}

// replayPartition читает не больше budget сообщений и не дальше конца
// партиции, зафиксированного до начала чтения.
func (r *replayer) replayPartition(ctx context.Context, partition int32, budget int) error {
	topic := r.cfg.sourceTopic
	first, err := r.deps.offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("oldest offset of %s/%d: %w", topic, partition, err)
	}
	end, err := r.deps.offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("newest offset of %s/%d: %w", topic, partition, err)
	}
	if end <= first {
		return nil
	}
	if r.cfg.fromNewest {
		first = max(first, end-int64(budget))
	}

	stream, err := r.deps.opener.ConsumePartition(topic, partition, first)
	if err != nil {
		return fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() { _ = stream.Close() }()

	msgs, errs := stream.Messages(), stream.Errors()
	for seen := 0; seen < budget; {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.idleTimeout):
			return nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("consume %s/%d: %w", topic, partition, cerr)
		case msg = <-msgs:
		}
		if msg == nil || msg.Offset >= end {
			return nil
		}

		seen++
		r.stats.scanned++
		if err := r.handle(msg); err != nil {
			return err
		}
		if msg.Offset+1 >= end {
			return nil
		}
	}
	return nil
}

// handle публикует одно сообщение; ошибкой считается только сбой публикации.
func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	rp, err := decodeReplay(msg, r.cfg.targetTopic, r.now().UTC())
	switch {
	case errors.Is(err, errUnknownRecord):
		r.stats.skipped++
		return nil
	case err != nil:
		r.stats.skipped++
		entry.WithError(err).Warn("dlq record cannot be replayed")
		return nil
	case !r.matches(rp):
		r.stats.skipped++
		return nil
	}

	entry = entry.WithFields(log.Fields{"target": rp.topic, "key": rp.key, "event_type": rp.eventType})
	if !r.cfg.execute {
		entry.Info("replay candidate")
		r.stats.replayed++
		return nil
	}
	if err := r.deps.publisher.PublishRaw(rp.topic, rp.key, rp.value, rp.headers()); err != nil {
		return fmt.Errorf("republish %s/%d: %w", msg.Topic, msg.Offset, err)
	}
	entry.Debug("replayed")
	r.stats.replayed++
	return nil
}

func (r *replayer) matches(rp replay) bool {
	if r.cfg.orderID != "" && rp.key != r.cfg.orderID {
		return false
	}
	return r.cfg.eventType == "" || rp.eventType == r.cfg.eventType
}

var _ rawPublisher = (*kafka.Producer)(nil)
