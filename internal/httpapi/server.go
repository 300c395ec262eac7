// Package httpapi описывает HTTP-поверхность сервиса на echo: оценку риска, ревью,
// очередь колл-центра, обратные вызовы голосового провайдера и вебхук перевозчика.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/confirmation"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/risk"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
)

// RiskService описывает операции движка оценки риска.
type RiskService interface {
	Assess(ctx context.Context, orderID string) (domain.RiskAssessment, error)
	Current(ctx context.Context, orderID string) (domain.RiskAssessment, error)
	CallCenterQueue(ctx context.Context) ([]risk.QueueEntry, error)
}

// ConfirmationService описывает операции оркестратора подтверждения.
type ConfirmationService interface {
	Review(ctx context.Context, assessmentID string, req confirmation.ReviewRequest) (domain.RiskAssessment, error)
	Script(ctx context.Context, orderID string, script domain.ScriptType, locale string) ([]byte, error)
	HandleResponse(ctx context.Context, resp confirmation.Response) ([]byte, error)
	HandleStatus(ctx context.Context, cb confirmation.StatusCallback) error
}

// ShipmentService обрабатывает пакеты событий перевозчика.
type ShipmentService interface {
	HandleWebhook(ctx context.Context, hook shipment.Webhook) shipment.Summary
}

// Dependencies содержит сервисы и хранилища, которые обслуживает HTTP-слой.
type Dependencies struct {
	Risk         RiskService
	Confirmation ConfirmationService
	Shipment     ShipmentService
	Orders       domain.OrderRepository
	Calls        domain.CallLogRepository
	Tracking     domain.TrackingHistoryRepository
}

// Config задаёт настройки HTTP-сервера.
type Config struct {
	// JWTSecret включает bearer-аутентификацию операторских маршрутов, если не пуст.
	JWTSecret       string
	ShutdownTimeout time.Duration
}

// Server представляет echo-сервер с маршрутами сервиса.
type Server struct {
	echo   *echo.Echo
	deps   Dependencies
	auth   *Authenticator
	cfg    Config
	logger *log.Entry
}

// New создаёт сервер и регистрирует маршруты.
func New(deps Dependencies, cfg Config, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		deps:   deps,
		auth:   NewAuthenticator(cfg.JWTSecret),
		cfg:    cfg,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")
	api.POST("/risk/orders/:id/assess", s.AssessOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.GET("/orders/:id/calls", s.ListCalls)
	api.GET("/orders/:id/tracking", s.ListTracking)

	operator := api.Group("/risk", s.auth.Middleware())
	operator.POST("/assessments/:id/review", s.ReviewAssessment)
	operator.GET("/call-center", s.CallCenterQueue)

	v := s.echo.Group("/voice")
	v.Match([]string{http.MethodGet, http.MethodPost}, "/script", s.VoiceScript)
	v.POST("/response", s.VoiceResponse)
	v.POST("/status", s.VoiceStatus)

	s.echo.POST("/webhooks/carrier", s.CarrierWebhook)
}

// Handler возвращает http.Handler для тестов и встраивания.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start слушает addr до вызова Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Infof("HTTP API слушает %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown аккуратно останавливает сервер.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.WithError(err).Warn("http api shutdown with error")
	}
}

func requestLogger(logger *log.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.WithFields(log.Fields{
				"method":  c.Request().Method,
				"path":    c.Path(),
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
			}).Debug("http request")
			return nil
		}
	}
}
