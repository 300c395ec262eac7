package app

import (
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/notify"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/confirmation"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
	"github.com/vladislavdragonenkov/codconfirm/internal/voice"
)

const (
	// StorageDriverMemory — хранение в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres — хранение в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	PublicBaseURL string
	StoreName     string
	// JWTSecret включает bearer-авторизацию операторских маршрутов.
	JWTSecret string

	KafkaBrokers       string
	KafkaConsumerGroup string
	KafkaMaxRetries    int

	Voice        voice.Config
	Chat         notify.ChatConfig
	SlackToken   string
	SlackChannel string

	MaxCallAttempts int
	RetryDelays     []time.Duration
	ChatDelay       time.Duration

	SchedulerPollInterval time.Duration
	SchedulerBatchSize    int
	SchedulerMaxAttempts  int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	CleanupSchedule  string
	CleanupRetention time.Duration
}

// DefaultConfig возвращает настройки для локального запуска в памяти.
func DefaultConfig() Config {
	confirm := confirmation.DefaultConfig()
	ship := shipment.DefaultConfig()
	return Config{
		HTTPAddr:              ":8080",
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		PublicBaseURL:         confirm.PublicBaseURL,
		StoreName:             confirm.StoreName,
		KafkaConsumerGroup:    "codconfirm",
		KafkaMaxRetries:       3,
		MaxCallAttempts:       confirm.MaxAttempts,
		RetryDelays:           confirm.RetryDelays,
		ChatDelay:             ship.ChatDelay,
		SchedulerPollInterval: time.Second,
		SchedulerBatchSize:    50,
		SchedulerMaxAttempts:  5,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     10,
		OutboxRetryDelay:      2 * time.Second,
		CleanupSchedule:       "@every 10m",
		CleanupRetention:      7 * 24 * time.Hour,
	}
}

func (c Config) confirmationConfig() confirmation.Config {
	cfg := confirmation.DefaultConfig()
	if c.PublicBaseURL != "" {
		cfg.PublicBaseURL = c.PublicBaseURL
	}
	if c.StoreName != "" {
		cfg.StoreName = c.StoreName
	}
	if c.MaxCallAttempts > 0 {
		cfg.MaxAttempts = c.MaxCallAttempts
	}
	if len(c.RetryDelays) > 0 {
		cfg.RetryDelays = c.RetryDelays
	}
	return cfg
}

func (c Config) shipmentConfig() shipment.Config {
	cfg := shipment.DefaultConfig()
	if c.StoreName != "" {
		cfg.StoreName = c.StoreName
	}
	if c.ChatDelay > 0 {
		cfg.ChatDelay = c.ChatDelay
	}
	return cfg
}
