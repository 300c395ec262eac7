package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/app"
)

const (
	envHTTPAddr            = "COD_HTTP_ADDR"
	envGRPCAddr            = "COD_GRPC_ADDR"
	envMetricsAddr         = "COD_METRICS_ADDR"
	envStorageDriver       = "COD_STORAGE_DRIVER"
	envPostgresDSN         = "COD_POSTGRES_DSN"
	envPostgresAutoMigrate = "COD_POSTGRES_AUTO_MIGRATE"
	envPublicBaseURL       = "COD_PUBLIC_BASE_URL"
	envStoreName           = "COD_STORE_NAME"
	envJWTSecret           = "COD_JWT_SECRET"

	envKafkaBrokers       = "KAFKA_BROKERS"
	envKafkaConsumerGroup = "COD_KAFKA_CONSUMER_GROUP"
	envKafkaMaxRetries    = "COD_KAFKA_MAX_RETRIES"

	envVoiceBaseURL    = "COD_VOICE_BASE_URL"
	envVoiceAccountSID = "COD_VOICE_ACCOUNT_SID"
	envVoiceAuthToken  = "COD_VOICE_AUTH_TOKEN"
	envVoiceFromNumber = "COD_VOICE_FROM_NUMBER"
	envVoiceTimeout    = "COD_VOICE_TIMEOUT"

	envChatURL     = "COD_CHAT_URL"
	envChatToken   = "COD_CHAT_TOKEN"
	envChatTimeout = "COD_CHAT_TIMEOUT"

	envSlackToken   = "COD_SLACK_TOKEN"
	envSlackChannel = "COD_SLACK_CHANNEL"

	envMaxCallAttempts = "COD_CONFIRM_MAX_ATTEMPTS"
	envRetryDelays     = "COD_CONFIRM_RETRY_DELAYS"
	envChatDelay       = "COD_CHAT_DELAY"

	envSchedulerPollInterval = "COD_SCHEDULER_POLL_INTERVAL"
	envSchedulerBatchSize    = "COD_SCHEDULER_BATCH_SIZE"
	envOutboxPollInterval    = "COD_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize       = "COD_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts     = "COD_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay      = "COD_OUTBOX_RETRY_DELAY"
	envCleanupSchedule       = "COD_CLEANUP_SCHEDULE"
	envCleanupRetention      = "COD_CLEANUP_RETENTION"
)

type envLookup func(key string) (string, bool)

func positiveInt(v int) bool { return v > 0 }

func positiveDuration(v time.Duration) bool { return v > 0 }

func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не валят запуск: остаётся значение по умолчанию и предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	warnings := make([]string, 0)

	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = parsed
	}
	integer := func(key string, target *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positiveInt, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = parsed
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	str(envPublicBaseURL, &cfg.PublicBaseURL)
	str(envStoreName, &cfg.StoreName)
	str(envJWTSecret, &cfg.JWTSecret)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)
	integer(envKafkaMaxRetries, &cfg.KafkaMaxRetries)

	str(envVoiceBaseURL, &cfg.Voice.BaseURL)
	str(envVoiceAccountSID, &cfg.Voice.AccountSID)
	str(envVoiceAuthToken, &cfg.Voice.AuthToken)
	str(envVoiceFromNumber, &cfg.Voice.FromNumber)
	duration(envVoiceTimeout, &cfg.Voice.Timeout, positiveDuration, "must be > 0")

	str(envChatURL, &cfg.Chat.URL)
	str(envChatToken, &cfg.Chat.Token)
	duration(envChatTimeout, &cfg.Chat.Timeout, positiveDuration, "must be > 0")

	str(envSlackToken, &cfg.SlackToken)
	str(envSlackChannel, &cfg.SlackChannel)

	integer(envMaxCallAttempts, &cfg.MaxCallAttempts)
	if v, ok := lookup(envRetryDelays); ok && strings.TrimSpace(v) != "" {
		delays, err := parseDurationList(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envRetryDelays, err))
		} else {
			cfg.RetryDelays = delays
		}
	}
	duration(envChatDelay, &cfg.ChatDelay, nonNegativeDuration, "must be >= 0")

	duration(envSchedulerPollInterval, &cfg.SchedulerPollInterval, positiveDuration, "must be > 0")
	integer(envSchedulerBatchSize, &cfg.SchedulerBatchSize)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize)
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	str(envCleanupSchedule, &cfg.CleanupSchedule)
	duration(envCleanupRetention, &cfg.CleanupRetention, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("duration %s %s", value, rule)
	}
	return value, nil
}

// parseDurationList разбирает задержки попыток вида "0s,30m,4h".
func parseDurationList(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		delay, err := parseDuration(part, nonNegativeDuration, "must be >= 0")
		if err != nil {
			return nil, err
		}
		delays = append(delays, delay)
	}
	return delays, nil
}
