package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/messaging/kafka"
)

// parseBrokers разбирает список брокеров через запятую.
func parseBrokers(brokers string) []string {
	result := make([]string, 0)
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			result = append(result, broker)
		}
	}
	return result
}

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := parseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, kafka.WithClientID("codconfirm"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// startOrderConsumer подписывается на новые заказы; ошибки после повторов уходят в DLQ.
func startOrderConsumer(ctx context.Context, cfg Config, assessor kafka.OrderAssessor, dlq *kafka.Producer, logger *log.Entry) *kafka.Consumer {
	brokerList := parseBrokers(cfg.KafkaBrokers)
	if len(brokerList) == 0 {
		return nil
	}

	handlerLogger := logger.WithField("component", "order-placed-consumer")
	opts := []kafka.ConsumerOption{
		kafka.WithMaxRetries(cfg.KafkaMaxRetries),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	}
	if dlq != nil {
		opts = append(opts, kafka.WithDLQ(dlq))
	}
	consumer, err := kafka.NewConsumer(
		brokerList,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicOrdersPlaced},
		kafka.NewOrderPlacedHandler(assessor, handlerLogger),
		opts...,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, orders are assessed over http only")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		return nil
	}
	return consumer
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
