// Команда codconfirm запускает сервис оценки риска COD-заказов и
// подтверждения доставки: HTTP API, вебхуки, воркеры и консьюмер Kafka.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/app"
	"github.com/vladislavdragonenkov/codconfirm/internal/version"
)

const (
	envLogLevel  = "COD_LOG_LEVEL"
	envLogFormat = "COD_LOG_FORMAT"
)

// setupLogger: format "json" включает JSONFormatter, иначе текст с полным временем.
func setupLogger(level, format string) {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env")
	}
	setupLogger(os.Getenv(envLogLevel), os.Getenv(envLogFormat))

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithField("source", "env").Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := log.WithFields(version.Info().Fields())
	entry.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        cfg.KafkaBrokers != "",
		"voice":        cfg.Voice.Enabled(),
	}).Info("codconfirm starting")

	err := app.Run(ctx, cfg)
	if err != nil && !errors.Is(err, context.Canceled) {
		entry.WithError(err).Fatal("codconfirm stopped with error")
	}
	entry.Info("codconfirm stopped")
}
