package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/codconfirm/internal/health"
	"github.com/vladislavdragonenkov/codconfirm/internal/httpapi"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/version"
)

const (
	shutdownTimeout    = 5 * time.Second
	healthSyncInterval = 10 * time.Second
)

// Run собирает сервис и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	// Без брокера сервис работает: события и эскалации пишутся в лог.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	svc, err := buildServices(cfg, deps.repos, producer, metrics.New(), logger)
	if err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if cfg.Voice.Enabled() {
		healthHandler.RegisterChecker("voice", healthcheck.NewOptionalChecker("voice", svc.voice.Ping))
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	workers := startWorkers(workersCtx, svc, logger)
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	consumer := startOrderConsumer(workersCtx, cfg, svc.engine, producer, logger)
	defer stopConsumer(consumer, logger)

	api := httpapi.New(httpapi.Dependencies{
		Risk:         svc.engine,
		Confirmation: svc.orchestrator,
		Shipment:     svc.processor,
		Orders:       deps.repos.orders,
		Calls:        deps.repos.calls,
		Tracking:     deps.repos.tracking,
	}, httpapi.Config{JWTSecret: cfg.JWTSecret, ShutdownTimeout: shutdownTimeout}, logger.WithField("layer", "http"))

	grpcServer, healthServer := newAdminServer(logger)
	go healthHandler.SyncGRPC(workersCtx, healthServer, healthSyncInterval)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		errCh <- api.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		api.Shutdown()
		stopGRPC(grpcServer, healthServer, logger)
		return ctx.Err()
	case err := <-errCh:
		api.Shutdown()
		stopGRPC(grpcServer, healthServer, logger)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startWorkers запускает фоновые воркеры; WaitGroup дожидается их остановки.
func startWorkers(ctx context.Context, svc *services, logger *log.Entry) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		svc.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		svc.outbox.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := svc.cleanup.Run(ctx); err != nil {
			logger.WithError(err).Error("task cleanup worker stopped")
		}
	}()
	return &wg
}

// newAdminServer создаёт gRPC-сервер со стандартным health-сервисом и reflection.
func newAdminServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает /metrics для Prometheus и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
