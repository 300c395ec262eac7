package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/catalog"
	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/escalation"
	"github.com/vladislavdragonenkov/codconfirm/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/notify"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/cleanup"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/confirmation"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/dispatch"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/outbox"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/risk"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/scheduler"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
	"github.com/vladislavdragonenkov/codconfirm/internal/voice"
)

// services содержит собранный граф сервисов процесса.
type services struct {
	voice        *voice.Client
	engine       *risk.Engine
	orchestrator *confirmation.Orchestrator
	processor    *shipment.Processor
	scheduler    *scheduler.Worker
	outbox       *outbox.Worker
	cleanup      *cleanup.Worker
}

// buildServices связывает хранилища, внешние каналы и воркеры.
// producer может быть nil: тогда события и эскалации только логируются.
func buildServices(cfg Config, repos repositories, producer *kafka.Producer, m *metrics.Metrics, logger *log.Entry) (*services, error) {
	texts, err := catalog.Load()
	if err != nil {
		return nil, err
	}

	voiceClient := voice.NewClient(cfg.Voice, nil, logger.WithField("component", "voice-client"))
	if !cfg.Voice.Enabled() {
		logger.Warn("voice provider is not configured, confirmation calls will fail and escalate")
	}

	orchestrator := confirmation.NewOrchestrator(confirmation.Dependencies{
		Orders:      repos.orders,
		Customers:   repos.customers,
		Assessments: repos.assessments,
		Calls:       repos.calls,
		Tasks:       repos.tasks,
		Outbox:      repos.outbox,
		Voice:       voiceClient,
		Escalations: escalationQueue(cfg, producer, logger),
		Catalog:     texts,
	}, cfg.confirmationConfig(),
		confirmation.WithLogger(logger.WithField("component", "confirmation")),
		confirmation.WithMetrics(m),
	)

	engine := risk.NewEngine(repos.orders, repos.customers, repos.assessments,
		risk.WithLogger(logger.WithField("component", "risk-engine")),
		risk.WithMetrics(m),
		risk.WithOutbox(repos.outbox),
		risk.WithDispatcher(dispatch.New(orchestrator, logger.WithField("component", "dispatcher"))),
	)

	processor := shipment.NewProcessor(shipment.Dependencies{
		Orders:    repos.orders,
		Customers: repos.customers,
		Tracking:  repos.tracking,
		Tasks:     repos.tasks,
		Outbox:    repos.outbox,
		SMS:       smsSender(cfg, voiceClient, m, logger),
		Chat:      chatSender(cfg, m, logger),
		Catalog:   texts,
	}, cfg.shipmentConfig(),
		shipment.WithLogger(logger.WithField("component", "shipment")),
		shipment.WithMetrics(m),
	)

	tasks := scheduler.NewWorker(repos.tasks,
		scheduler.WithLogger(logger.WithField("component", "scheduler")),
		scheduler.WithMetrics(m),
		scheduler.WithPollInterval(cfg.SchedulerPollInterval),
		scheduler.WithBatchSize(cfg.SchedulerBatchSize),
		scheduler.WithMaxAttempts(cfg.SchedulerMaxAttempts),
	)
	tasks.Register(domain.TaskCallRetry, orchestrator.HandleRetryTask)
	tasks.Register(domain.TaskChatNotification, processor.HandleChatTask)

	return &services{
		voice:        voiceClient,
		engine:       engine,
		orchestrator: orchestrator,
		processor:    processor,
		scheduler:    tasks,
		outbox:       outboxWorker(cfg, repos.outbox, producer, m, logger),
		cleanup: cleanup.NewWorker(repos.tasks,
			cleanup.WithLogger(logger.WithField("component", "task-cleanup")),
			cleanup.WithSchedule(cfg.CleanupSchedule),
			cleanup.WithRetention(cfg.CleanupRetention),
		),
	}, nil
}

// escalationQueue раздаёт эскалацию во все настроенные каналы; лог есть всегда.
func escalationQueue(cfg Config, producer *kafka.Producer, logger *log.Entry) domain.EscalationQueue {
	queues := []domain.EscalationQueue{escalation.NewLogQueue(logger.WithField("component", "escalation"))}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		queues = append(queues, escalation.NewSlackQueue(
			escalation.NewSlackClient(cfg.SlackToken), cfg.SlackChannel, logger.WithField("component", "escalation-slack"),
		))
	}
	if producer != nil {
		queues = append(queues, escalation.NewTopicQueue(producer, kafka.TopicEscalations))
	}
	return escalation.NewFanOut(logger.WithField("component", "escalation"), queues...)
}

func smsSender(cfg Config, client *voice.Client, m *metrics.Metrics, logger *log.Entry) domain.Sender {
	var sender domain.Sender = notify.NewLogSender("sms", logger.WithField("component", "sms"))
	if cfg.Voice.Enabled() {
		sender = notify.NewSMSSender(client)
	}
	return notify.WithMetrics(sender, "sms", m)
}

func chatSender(cfg Config, m *metrics.Metrics, logger *log.Entry) domain.Sender {
	var sender domain.Sender = notify.NewLogSender("chat", logger.WithField("component", "chat"))
	if cfg.Chat.URL != "" {
		sender = notify.NewChatSender(cfg.Chat, nil)
	}
	return notify.WithMetrics(sender, "chat", m)
}

func outboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, m *metrics.Metrics, logger *log.Entry) *outbox.Worker {
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox")),
		outbox.WithMetrics(m),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer == nil {
		return outbox.NewWorker(repo, outbox.NewLogPublisher(logger.WithField("component", "outbox-log")), options...)
	}
	options = append(options, outbox.WithDLQPublisher(kafka.NewDLQOutboxPublisher(producer)))
	return outbox.NewWorker(repo, kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents), options...)
}
