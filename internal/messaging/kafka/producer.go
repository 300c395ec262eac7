package kafka

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "codconfirm"

// Producer публикует события заказа синхронно и идемпотентно.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// ProducerOption настраивает sarama.Config перед созданием producer.
type ProducerOption func(*sarama.Config)

// WithClientID задаёт client.id, под которым producer виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(cfg *sarama.Config) {
		if id != "" {
			cfg.ClientID = id
		}
	}
}

// WithCompression меняет кодек сжатия (по умолчанию snappy).
func WithCompression(codec sarama.CompressionCodec) ProducerOption {
	return func(cfg *sarama.Config) { cfg.Producer.Compression = codec }
}

func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = defaultClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(config)
	}

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{producer: producer, logger: log.WithField("component", "kafka-producer")}, nil
}

// PublishEvent кодирует событие в JSON и отправляет его с ключом key (обычно order_id).
func (p *Producer) PublishEvent(topic string, key string, event any) error {
	return p.PublishWithHeaders(topic, key, event, nil)
}

// PublishWithHeaders кодирует событие в JSON и отправляет его с заголовками.
func (p *Producer) PublishWithHeaders(topic string, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.PublishRaw(topic, key, value, headers)
}

// PublishRaw отправляет уже закодированное значение без повторной сериализации.
func (p *Producer) PublishRaw(topic string, key string, value []byte, headers map[string]string) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: time.Now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	logger := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	if err != nil {
		logger.WithError(err).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}
	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return nil
}

// recordHeaders упорядочивает заголовки по ключу.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
