package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/outbox"
)

// Dispatcher запускает действие по уровню риска.
type Dispatcher interface {
	Dispatch(ctx context.Context, assessment domain.RiskAssessment) error
}

// Options задаёт необязательные зависимости движка.
type Options struct {
	Logger     *log.Entry
	Metrics    *metrics.Metrics
	Outbox     domain.OutboxRepository
	Dispatcher Dispatcher
	Clock      func() time.Time
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithOutbox включает публикацию события RiskAssessed.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(o *Options) { o.Outbox = repo }
}

// WithDispatcher задаёт маршрутизацию по уровню риска.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Options) { o.Dispatcher = d }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// Engine оценивает заказы и сохраняет оценки.
type Engine struct {
	orders      domain.OrderRepository
	customers   domain.CustomerRepository
	assessments domain.AssessmentRepository

	outbox     domain.OutboxRepository
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *log.Entry
	now        func() time.Time
}

// NewEngine создаёт движок оценки риска.
func NewEngine(orders domain.OrderRepository, customers domain.CustomerRepository, assessments domain.AssessmentRepository, options ...Option) *Engine {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "risk-engine")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		orders:      orders,
		customers:   customers,
		assessments: assessments,
		outbox:      opts.Outbox,
		dispatcher:  opts.Dispatcher,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Clock,
	}
}

// Assess считает риск заказа, сохраняет оценку и запускает действие.
// Ошибки действия только логируются: сохранённая оценка не откатывается.
func (e *Engine) Assess(ctx context.Context, orderID string) (domain.RiskAssessment, error) {
	if orderID == "" {
		return domain.RiskAssessment{}, domain.ErrOrderIDRequired
	}
	started := e.now()

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if err := order.Validate(); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("order %s: %w", orderID, err)
	}
	customer, err := e.customers.Get(ctx, order.CustomerID)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("load customer %s: %w", order.CustomerID, err)
	}
	history, err := e.history(ctx, order)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	now := e.now().UTC()
	result := Score(Input{Order: order, Customer: customer, History: history, Now: now})
	assessment := domain.RiskAssessment{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		CustomerID:      customer.ID,
		Score:           result.Score,
		Tier:            result.Tier,
		Action:          result.Tier.Action(),
		Factors:         result.Factors,
		IsBlocked:       result.IsBlocked,
		AddressVerified: result.AddressVerified,
		HasHouseNumber:  result.HasHouseNumber,
		IsFirstOrder:    result.IsFirstOrder,
		CreatedAt:       now,
	}
	if err := e.assessments.Record(ctx, assessment); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("record assessment: %w", err)
	}
	e.metrics.RecordAssessment(string(assessment.Tier), e.now().Sub(started))

	logger := e.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"assessment_id": assessment.ID,
		"score":         assessment.Score,
		"tier":          assessment.Tier,
	})
	logger.Info("risk assessed")

	if err := outbox.Record(ctx, e.outbox, domain.EventRiskAssessed, order.ID, domain.RiskAssessedEvent{
		OrderID:      order.ID,
		AssessmentID: assessment.ID,
		Score:        assessment.Score,
		Tier:         assessment.Tier,
		Action:       assessment.Action,
		Factors:      assessment.Factors.Map(),
		AssessedAt:   now,
	}); err != nil {
		logger.WithError(err).Warn("failed to enqueue risk assessed event")
	}

	if assessment.Tier == domain.RiskTierBlocked {
		if updated, err := e.autoReject(ctx, assessment); err != nil {
			logger.WithError(err).Warn("failed to auto-reject blocked order")
		} else {
			assessment = updated
		}
		return assessment, nil
	}

	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, assessment); err != nil {
			logger.WithError(err).Warn("risk action dispatch failed")
		}
	}
	return assessment, nil
}

func (e *Engine) history(ctx context.Context, order domain.Order) ([]domain.Order, error) {
	orders, err := e.orders.ListByCustomer(ctx, order.CustomerID, 0)
	if err != nil {
		return nil, fmt.Errorf("load customer history: %w", err)
	}
	history := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID != order.ID {
			history = append(history, o)
		}
	}
	return history, nil
}

// autoReject отменяет заказ заблокированного клиента без участия человека.
func (e *Engine) autoReject(ctx context.Context, assessment domain.RiskAssessment) (domain.RiskAssessment, error) {
	cancelled := domain.OrderStatusCancelled
	note := fmt.Sprintf("auto-cancelled: blocked customer, risk score %d", assessment.Score)
	if _, err := e.orders.UpdateStatus(ctx, assessment.OrderID, domain.OrderStatusUpdate{
		OrderStatus: &cancelled,
		Note:        note,
	}); err != nil {
		return assessment, fmt.Errorf("cancel order: %w", err)
	}
	updated, err := e.assessments.SetOutcome(ctx, assessment.ID, domain.AssessmentOutcome{
		Result: domain.ActionResultAutoRejected,
		Notes:  note,
	})
	if err != nil {
		return assessment, fmt.Errorf("record auto-reject outcome: %w", err)
	}
	return updated, nil
}

// QueueEntry описывает оценку из очереди колл-центра вместе с заказом и клиентом.
type QueueEntry struct {
	Assessment domain.RiskAssessment `json:"assessment"`
	Order      domain.Order          `json:"order"`
	Customer   domain.Customer       `json:"customer"`
}

// CallCenterQueue возвращает нерассмотренные оценки уровня HIGH, от новых к старым.
func (e *Engine) CallCenterQueue(ctx context.Context) ([]QueueEntry, error) {
	pending, err := e.assessments.ListPendingReview(ctx, domain.RiskTierHigh)
	if err != nil {
		return nil, fmt.Errorf("list pending review: %w", err)
	}

	entries := make([]QueueEntry, 0, len(pending))
	for _, a := range pending {
		order, err := e.orders.Get(ctx, a.OrderID)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("load order %s: %w", a.OrderID, err)
		}
		customer, err := e.customers.Get(ctx, a.CustomerID)
		if err != nil && !domain.IsNotFound(err) {
			return nil, fmt.Errorf("load customer %s: %w", a.CustomerID, err)
		}
		entries = append(entries, QueueEntry{Assessment: a, Order: order, Customer: customer})
	}
	return entries, nil
}

// Current возвращает текущую оценку заказа.
func (e *Engine) Current(ctx context.Context, orderID string) (domain.RiskAssessment, error) {
	return e.assessments.Current(ctx, orderID)
}
