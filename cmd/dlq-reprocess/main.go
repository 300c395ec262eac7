// Команда dlq-reprocess возвращает сообщения из cod.dlq в рабочие топики:
// упавшие события новых заказов уходят обратно в исходный топик, события
// outbox пересобираются в Envelope и публикуются в cod.order.events.
//
// По умолчанию команда только печатает кандидатов; публикация включается флагом -execute.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	envBrokers         = "KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	orderID     string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// kafkaDeps содержит всё, что нужно одному прогону; publisher пуст в dry-run.
type kafkaDeps struct {
	offsets   offsetSource
	opener    partitionOpener
	publisher rawPublisher
}

func (d kafkaDeps) close() {
	for _, c := range []io.Closer{d.publisher, d.opener, d.offsets} {
		if c != nil {
			_ = c.Close()
		}
	}
}

type saramaOpener struct{ consumer sarama.Consumer }

func (o saramaOpener) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return o.consumer.ConsumePartition(topic, partition, offset)
}

func (o saramaOpener) Close() error { return o.consumer.Close() }

var openKafka = func(cfg config) (kafkaDeps, error) {
	sc := sarama.NewConfig()
	sc.ClientID = "codconfirm-dlq-reprocess"
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, sc)
	if err != nil {
		return kafkaDeps{}, fmt.Errorf("connect kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaDeps{}, fmt.Errorf("create partition consumer: %w", err)
	}
	deps := kafkaDeps{offsets: client, opener: saramaOpener{consumer: consumer}}
	if cfg.execute {
		producer, err := kafka.NewProducer(cfg.brokers, kafka.WithClientID(sc.ClientID))
		if err != nil {
			deps.close()
			return kafkaDeps{}, err
		}
		deps.publisher = producer
	}
	return deps, nil
}

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func parseArgs(args []string, getenv func(string) string) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		cfg     config
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $"+envBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "destination of replayed outbox events")
	fs.StringVar(&cfg.orderID, "order-id", "", "replay only this order")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only outbox events of this type, e.g. RiskAssessed")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan across partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish instead of printing candidates")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the last -limit messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envBrokers)
	}
	cfg.brokers = splitBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.orderID = strings.TrimSpace(cfg.orderID)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("no kafka brokers: pass -brokers or set " + envBrokers)
	case cfg.sourceTopic == "" || cfg.targetTopic == "":
		return config{}, errors.New("source and target topics must not be empty")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be positive, got %d", cfg.limit)
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be positive, got %s", cfg.idleTimeout)
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if b := strings.TrimSpace(part); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithFields(log.Fields{"source": cfg.sourceTopic, "mode": cfg.mode()})
	logger.WithFields(log.Fields{
		"order_id":   cfg.orderID,
		"event_type": cfg.eventType,
		"limit":      cfg.limit,
	}).Info("dlq replay started")

	deps, err := openKafka(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	r := &replayer{cfg: cfg, deps: deps, logger: logger, now: time.Now}
	if err := r.replayTopic(ctx); err != nil {
		return err
	}
	logger.WithFields(log.Fields{
		"scanned":  r.stats.scanned,
		"replayed": r.stats.replayed,
		"skipped":  r.stats.skipped,
	}).Info("dlq replay finished")
	return nil
}
