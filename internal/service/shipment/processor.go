// Package shipment применяет события перевозчика к заказам и рассылает
// уведомления о посылке в пути.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/catalog"
	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/notify"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/outbox"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/scheduler"
)

const (
	subStatusArrival      = "intransit_arrival"
	subStatusDelivered    = "delivered"
	statusReturned        = "returned"
	statusUndelivered     = "undelivered"
	statusDeliveryFailure = "deliveryfailure"
	statusException       = "exception"

	// DefaultReturnReason — причина возврата, если перевозчик её не указал.
	DefaultReturnReason = "returned to sender"
)

// Результаты обработки элемента вебхука (метка метрики).
const (
	ResultApplied  = "applied"
	ResultRecorded = "recorded"
	ResultUnknown  = "unknown_tracking"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Config задаёт параметры обработчика.
type Config struct {
	StoreName string
	// ChatDelay — задержка подробного уведомления в чат.
	ChatDelay time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{StoreName: "our store", ChatDelay: time.Hour}
}

// Dependencies содержит хранилища и каналы обработчика.
type Dependencies struct {
	Orders    domain.OrderRepository
	Customers domain.CustomerRepository
	Tracking  domain.TrackingHistoryRepository
	Tasks     domain.TaskRepository
	Outbox    domain.OutboxRepository
	SMS       domain.Sender
	Chat      domain.Sender
	Catalog   *catalog.Catalog
}

// Option настраивает Processor.
type Option func(*Processor)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) {
		if clock != nil {
			p.now = clock
		}
	}
}

// Processor обрабатывает вебхуки перевозчика.
type Processor struct {
	deps    Dependencies
	cfg     Config
	metrics *metrics.Metrics
	logger  *log.Entry
	now     func() time.Time
}

// NewProcessor создаёт обработчик событий доставки.
func NewProcessor(deps Dependencies, cfg Config, options ...Option) *Processor {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.StoreName) == "" {
		cfg.StoreName = defaults.StoreName
	}
	if cfg.ChatDelay <= 0 {
		cfg.ChatDelay = defaults.ChatDelay
	}
	p := &Processor{
		deps:   deps,
		cfg:    cfg,
		logger: log.WithField("component", "shipment"),
		now:    time.Now,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Summary подводит итог обработки пакета.
type Summary struct {
	Applied  int `json:"applied"`
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// HandleWebhook обрабатывает элементы пакета последовательно. Ошибка одного
// элемента не прерывает остальные; неизвестные типы событий игнорируются.
func (p *Processor) HandleWebhook(ctx context.Context, hook Webhook) Summary {
	var summary Summary
	if !strings.EqualFold(strings.TrimSpace(hook.Event), EventTrackingUpdated) {
		p.logger.WithField("event", hook.Event).Debug("carrier event ignored")
		return summary
	}

	for _, item := range hook.Data.Accepted {
		if ctx.Err() != nil {
			break
		}
		result, err := p.processItem(ctx, item)
		if err != nil {
			p.logger.WithError(err).WithField("tracking_number", item.Number).Warn("failed to process tracking update")
		}
		p.metrics.RecordWebhookItem(result)

		switch result {
		case ResultApplied:
			summary.Applied++
		case ResultRecorded, ResultRejected:
			summary.Recorded++
		case ResultUnknown:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	return summary
}

// transition описывает изменение статусов по правилу перевозчика.
type transition struct {
	shipping    domain.ShippingStatus
	order       domain.OrderStatus
	deliveredAt bool
	returnedAt  bool
	notify      bool
}

// ruleFor применяет правила по порядку; первое совпадение выигрывает.
func ruleFor(status, subStatus string) (transition, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	sub := strings.ToLower(strings.TrimSpace(subStatus))

	switch {
	case sub == subStatusArrival:
		return transition{shipping: domain.ShippingStatusInTransit, order: domain.OrderStatusInTransit, notify: true}, true
	case strings.HasPrefix(sub, subStatusDelivered):
		return transition{shipping: domain.ShippingStatusDelivered, order: domain.OrderStatusDelivered, deliveredAt: true}, true
	case status == statusReturned:
		return transition{shipping: domain.ShippingStatusReturned, order: domain.OrderStatusReturned, returnedAt: true}, true
	case status == statusUndelivered || status == statusDeliveryFailure:
		return transition{shipping: domain.ShippingStatusUndelivered, order: domain.OrderStatusException}, true
	case status == statusException:
		return transition{shipping: domain.ShippingStatusException, order: domain.OrderStatusException}, true
	default:
		return transition{}, false
	}
}

func (p *Processor) processItem(ctx context.Context, item TrackItem) (string, error) {
	number := strings.TrimSpace(item.Number)
	if number == "" {
		return ResultUnknown, nil
	}
	logger := p.logger.WithField("tracking_number", number)

	order, err := p.deps.Orders.FindByTrackingNumber(ctx, number)
	if err != nil {
		if domain.IsNotFound(err) {
			logger.Info("tracking number does not match any order")
			return ResultUnknown, nil
		}
		return ResultError, fmt.Errorf("find order by tracking number: %w", err)
	}
	logger = logger.WithField("order_id", order.ID)

	now := p.now().UTC()
	latest := item.TrackInfo.LatestStatus
	event := item.TrackInfo.LatestEvent
	eventTime := event.eventTime(now)

	if err := p.deps.Tracking.Append(ctx, domain.TrackingHistoryEntry{
		OrderID:        order.ID,
		TrackingNumber: number,
		Carrier:        string(item.Carrier),
		Status:         latest.Status,
		SubStatus:      latest.SubStatus,
		Description:    event.Description,
		Location:       event.Location,
		EventTime:      eventTime,
		CreatedAt:      now,
	}); err != nil {
		return ResultError, fmt.Errorf("append tracking history: %w", err)
	}
	if item.Carrier != "" {
		if err := p.deps.Orders.SetCourierIfEmpty(ctx, order.ID, string(item.Carrier)); err != nil {
			logger.WithError(err).Warn("failed to backfill courier")
		}
	}

	rule, ok := ruleFor(latest.Status, latest.SubStatus)
	if !ok {
		logger.WithFields(log.Fields{"status": latest.Status, "sub_status": latest.SubStatus}).Debug("tracking event recorded")
		return ResultRecorded, nil
	}

	updated, err := p.deps.Orders.UpdateStatus(ctx, order.ID, p.update(rule, event, eventTime))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.WithError(err).Warn("carrier status rejected by transition table")
			return ResultRejected, nil
		}
		return ResultError, fmt.Errorf("update order status: %w", err)
	}

	p.metrics.RecordShipmentTransition(string(rule.shipping))
	if err := outbox.Record(ctx, p.deps.Outbox, domain.EventShipmentStatusChanged, order.ID, domain.ShipmentEvent{
		OrderID:        order.ID,
		TrackingNumber: number,
		ShippingStatus: updated.ShippingStatus,
		OrderStatus:    updated.OrderStatus,
		OccurredAt:     eventTime,
	}); err != nil {
		logger.WithError(err).Warn("failed to enqueue shipment event")
	}
	logger.WithField("shipping_status", updated.ShippingStatus).Info("shipment status applied")

	if rule.notify {
		p.notifyInTransit(ctx, updated, logger)
	}
	return ResultApplied, nil
}

func (p *Processor) update(rule transition, event LatestEvent, eventTime time.Time) domain.OrderStatusUpdate {
	shipping, order := rule.shipping, rule.order
	upd := domain.OrderStatusUpdate{ShippingStatus: &shipping, OrderStatus: &order}

	description := strings.TrimSpace(event.Description)
	switch {
	case rule.deliveredAt:
		upd.DeliveredAt = &eventTime
	case rule.returnedAt:
		upd.ReturnedAt = &eventTime
		upd.ReturnReason = description
		if upd.ReturnReason == "" {
			upd.ReturnReason = DefaultReturnReason
		}
	case order == domain.OrderStatusException:
		upd.Note = fmt.Sprintf("carrier reported %s", strings.ToLower(string(shipping)))
		if description != "" {
			upd.Note += ": " + description
		}
	}
	return upd
}

// notifyInTransit отправляет SMS сразу и планирует подробное сообщение в чат.
// Ошибки каналов только логируются.
func (p *Processor) notifyInTransit(ctx context.Context, order domain.Order, logger *log.Entry) {
	customer, err := p.deps.Customers.Get(ctx, order.CustomerID)
	if err != nil && !domain.IsNotFound(err) {
		logger.WithError(err).Warn("failed to load customer for notification")
	}
	locale := p.deps.Catalog.DetectLocale(order.ShippingAddress.Country)

	if p.deps.SMS != nil {
		if err := p.send(ctx, p.deps.SMS, order, customer, locale, catalog.KeySMSTransit); err != nil {
			logger.WithError(err).Warn("in-transit sms failed")
		}
	}

	dueAt := p.now().UTC().Add(p.cfg.ChatDelay)
	if _, err := scheduler.Enqueue(ctx, p.deps.Tasks, domain.TaskChatNotification, order.ID, "", domain.ChatNotificationPayload{
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		Locale:         locale,
	}, dueAt); err != nil {
		logger.WithError(err).Warn("failed to schedule chat notification")
		return
	}
	logger.WithField("due_at", dueAt).Debug("chat notification scheduled")
}

// HandleChatTask отправляет отложенное уведомление. Если посылка уже вручена
// или вернулась, сообщение не отправляется.
func (p *Processor) HandleChatTask(ctx context.Context, task domain.ScheduledTask) error {
	payload, err := scheduler.Decode[domain.ChatNotificationPayload](task)
	if err != nil {
		return err
	}
	if payload.OrderID == "" {
		payload.OrderID = task.OrderID
	}
	logger := p.logger.WithFields(log.Fields{"order_id": payload.OrderID, "task_id": task.ID})

	order, err := p.deps.Orders.Get(ctx, payload.OrderID)
	if err != nil {
		if domain.IsNotFound(err) {
			return scheduler.Permanent(err)
		}
		return fmt.Errorf("load order: %w", err)
	}
	if order.ShippingStatus.Final() {
		logger.WithField("shipping_status", order.ShippingStatus).Info("chat notification skipped, shipment finished")
		return nil
	}
	if p.deps.Chat == nil {
		logger.Debug("chat channel disabled")
		return nil
	}

	customer, err := p.deps.Customers.Get(ctx, order.CustomerID)
	if err != nil && !domain.IsNotFound(err) {
		return fmt.Errorf("load customer: %w", err)
	}
	locale := payload.Locale
	if locale == "" {
		locale = p.deps.Catalog.DetectLocale(order.ShippingAddress.Country)
	}
	if err := p.send(ctx, p.deps.Chat, order, customer, locale, catalog.KeyChatTransit); err != nil {
		if errors.Is(err, notify.ErrEmptyDestination) || errors.Is(err, domain.ErrTemplateNotFound) {
			return scheduler.Permanent(err)
		}
		return fmt.Errorf("send chat notification: %w", err)
	}
	logger.Info("chat notification sent")
	return nil
}

func (p *Processor) send(ctx context.Context, sender domain.Sender, order domain.Order, customer domain.Customer, locale, key string) error {
	loc := p.deps.Catalog.Locale(locale)
	body, err := loc.Render(key, loc.OrderData(order, customer, p.cfg.StoreName))
	if err != nil {
		return err
	}
	destination := strings.TrimSpace(customer.Phone)
	if destination == "" {
		destination = strings.TrimSpace(order.ShippingAddress.Phone)
	}
	_, err = sender.Send(ctx, destination, body)
	return err
}
