// Package confirmation ведёт подтверждение заказа звонком: сценарий, попытки,
// ответы клиента, повторы и эскалацию в колл-центр.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/catalog"
	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/outbox"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/scheduler"
)

// Причины эскалации.
const (
	ReasonUnclear     = "unclear_response"
	ReasonNoAnswer    = "max_attempts_reached"
	ReasonCallFailed  = "call_failed"
	ReasonNoContact   = "no_phone_number"
	defaultStoreName  = "our store"
	defaultGatherWait = 6
)

// Config задаёт политику подтверждения.
type Config struct {
	// PublicBaseURL — внешний адрес сервиса для обратных вызовов провайдера.
	PublicBaseURL string
	StoreName     string
	MaxAttempts   int
	// RetryDelays — задержка попытки N+1 при N уже сделанных попытках.
	RetryDelays   []time.Duration
	GatherTimeout int
}

// DefaultConfig возвращает политику по умолчанию: 3 попытки, 0/30/240 минут.
func DefaultConfig() Config {
	return Config{
		PublicBaseURL: "http://localhost:8080",
		StoreName:     defaultStoreName,
		MaxAttempts:   3,
		RetryDelays:   []time.Duration{0, 30 * time.Minute, 240 * time.Minute},
		GatherTimeout: defaultGatherWait,
	}
}

// Dependencies содержит хранилища и внешние каналы оркестратора.
type Dependencies struct {
	Orders      domain.OrderRepository
	Customers   domain.CustomerRepository
	Assessments domain.AssessmentRepository
	Calls       domain.CallLogRepository
	Tasks       domain.TaskRepository
	Outbox      domain.OutboxRepository
	Voice       domain.VoiceProvider
	Escalations domain.EscalationQueue
	Catalog     *catalog.Catalog
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// Orchestrator реализует конечный автомат подтверждения заказа.
type Orchestrator struct {
	deps    Dependencies
	cfg     Config
	metrics *metrics.Metrics
	logger  *log.Entry
	now     func() time.Time
}

// NewOrchestrator создаёт оркестратор подтверждения.
func NewOrchestrator(deps Dependencies, cfg Config, options ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = defaults.RetryDelays
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = defaults.GatherTimeout
	}
	if strings.TrimSpace(cfg.StoreName) == "" {
		cfg.StoreName = defaults.StoreName
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: log.WithField("component", "confirmation"),
		now:    time.Now,
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// StartConfirmation делает первую (или следующую) попытку звонка по заказу.
func (o *Orchestrator) StartConfirmation(ctx context.Context, orderID string, script domain.ScriptType) error {
	if orderID == "" {
		return domain.ErrOrderIDRequired
	}
	if !script.Valid() {
		script = domain.ScriptShort
	}

	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !awaitingCall(order) {
		o.logger.WithFields(log.Fields{
			"order_id":            orderID,
			"confirmation_status": order.ConfirmationStatus,
		}).Info("confirmation already handled, call skipped")
		return nil
	}

	locale := o.deps.Catalog.DetectLocale(order.ShippingAddress.Country)
	return o.placeAttempt(ctx, order, script, locale)
}

// placeAttempt резервирует следующую попытку и заказывает звонок.
// Ошибки провайдера не возвращаются: они переходят в повтор или эскалацию.
func (o *Orchestrator) placeAttempt(ctx context.Context, order domain.Order, script domain.ScriptType, locale string) error {
	count, err := o.deps.Calls.Count(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("count call attempts: %w", err)
	}
	if count >= o.cfg.MaxAttempts {
		return o.Escalate(ctx, order.ID, ReasonNoAnswer)
	}

	attempt := count + 1
	logger := o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"attempt":  attempt,
		"script":   script,
		"locale":   locale,
	})

	phone, err := o.phoneFor(ctx, order)
	if err != nil {
		return err
	}
	if phone == "" {
		logger.Warn("order has no phone number, escalating")
		return o.Escalate(ctx, order.ID, ReasonNoContact)
	}

	call, err := o.deps.Calls.Reserve(ctx, domain.CallLog{
		OrderID:        order.ID,
		AttemptNumber:  attempt,
		ScriptType:     script,
		ScriptLanguage: locale,
	})
	if err != nil {
		if errors.Is(err, domain.ErrCallAttemptConflict) {
			logger.WithError(err).Info("attempt already reserved by another worker")
			return nil
		}
		return fmt.Errorf("reserve call attempt: %w", err)
	}

	sid, err := o.deps.Voice.PlaceCall(ctx, domain.CallRequest{
		To:                phone,
		CallbackURL:       o.ScriptURL(order.ID, script, locale),
		StatusCallbackURL: o.StatusURL(order.ID, script, locale),
	})
	if err != nil {
		o.metrics.RecordCallPlaced(string(script), "error")
		logger.WithError(err).Warn("voice provider rejected call")
		if markErr := o.deps.Calls.MarkFailed(ctx, call.ID, err.Error()); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark call attempt as failed")
		}
		if attempt >= o.cfg.MaxAttempts {
			return o.Escalate(ctx, order.ID, ReasonCallFailed)
		}
		return o.ScheduleRetry(ctx, order.ID, script, locale)
	}

	if err := o.deps.Calls.MarkPlaced(ctx, call.ID, sid); err != nil {
		logger.WithError(err).Warn("failed to store call sid")
	}
	o.metrics.RecordCallPlaced(string(script), "placed")
	logger.WithField("call_sid", sid).Info("confirmation call placed")
	return nil
}

// ScheduleRetry планирует следующую попытку по свежему числу попыток из журнала звонков.
// Если лимит исчерпан, заказ уходит в колл-центр.
func (o *Orchestrator) ScheduleRetry(ctx context.Context, orderID string, script domain.ScriptType, locale string) error {
	count, err := o.deps.Calls.Count(ctx, orderID)
	if err != nil {
		return fmt.Errorf("count call attempts: %w", err)
	}
	if count >= o.cfg.MaxAttempts {
		return o.Escalate(ctx, orderID, ReasonNoAnswer)
	}

	attempt := count + 1
	dueAt := o.now().UTC().Add(o.delayFor(count))
	_, err = scheduler.Enqueue(ctx, o.deps.Tasks, domain.TaskCallRetry, orderID, retryKey(orderID, attempt), domain.CallRetryPayload{
		OrderID: orderID,
		Attempt: attempt,
		Script:  script,
		Locale:  locale,
	}, dueAt)
	if err != nil {
		if errors.Is(err, domain.ErrTaskDuplicate) {
			o.logger.WithFields(log.Fields{"order_id": orderID, "attempt": attempt}).Debug("retry already scheduled")
			return nil
		}
		return err
	}

	o.metrics.RecordRetryScheduled()
	o.logger.WithFields(log.Fields{
		"order_id": orderID,
		"attempt":  attempt,
		"due_at":   dueAt,
	}).Info("confirmation call retry scheduled")
	return nil
}

// HandleRetryTask выполняет отложенную попытку звонка.
func (o *Orchestrator) HandleRetryTask(ctx context.Context, task domain.ScheduledTask) error {
	payload, err := scheduler.Decode[domain.CallRetryPayload](task)
	if err != nil {
		return err
	}
	if payload.OrderID == "" {
		payload.OrderID = task.OrderID
	}

	count, err := o.deps.Calls.Count(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("count call attempts: %w", err)
	}
	logger := o.logger.WithFields(log.Fields{
		"order_id": payload.OrderID,
		"attempt":  payload.Attempt,
		"task_id":  task.ID,
	})
	if count+1 != payload.Attempt {
		logger.WithField("attempts_made", count).Info("stale retry task skipped")
		return nil
	}

	order, err := o.deps.Orders.Get(ctx, payload.OrderID)
	if err != nil {
		if domain.IsNotFound(err) {
			return scheduler.Permanent(err)
		}
		return fmt.Errorf("load order: %w", err)
	}
	if !awaitingCall(order) {
		logger.WithField("confirmation_status", order.ConfirmationStatus).Info("retry skipped, confirmation already handled")
		return nil
	}

	locale := payload.Locale
	if locale == "" {
		locale = o.deps.Catalog.DetectLocale(order.ShippingAddress.Country)
	}
	return o.placeAttempt(ctx, order, payload.Script, locale)
}

// StatusCallback описывает статус звонка от провайдера.
type StatusCallback struct {
	OrderID string
	CallSID string
	Status  domain.CallStatus
	Script  domain.ScriptType
	Locale  string
}

// HandleStatus фиксирует статус звонка; no-answer, busy, failed и canceled запускают политику повторов.
func (o *Orchestrator) HandleStatus(ctx context.Context, cb StatusCallback) error {
	if cb.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	logger := o.logger.WithFields(log.Fields{
		"order_id":    cb.OrderID,
		"call_sid":    cb.CallSID,
		"call_status": cb.Status,
	})

	call, err := o.deps.Calls.UpdateStatus(ctx, cb.OrderID, cb.CallSID, cb.Status)
	switch {
	case err == nil:
		if cb.Script == "" {
			cb.Script = call.ScriptType
		}
		if cb.Locale == "" {
			cb.Locale = call.ScriptLanguage
		}
	case errors.Is(err, domain.ErrCallLogNotFound):
		logger.Warn("status callback for unknown call attempt")
	default:
		return fmt.Errorf("update call status: %w", err)
	}

	if !cb.Status.Retryable() {
		logger.Debug("call status recorded")
		return nil
	}

	order, err := o.deps.Orders.Get(ctx, cb.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", cb.OrderID, err)
	}
	if !awaitingCall(order) {
		logger.Info("call ended after confirmation was handled, no retry")
		return nil
	}
	if !cb.Script.Valid() {
		cb.Script = domain.ScriptShort
	}
	if cb.Locale == "" {
		cb.Locale = o.deps.Catalog.DetectLocale(order.ShippingAddress.Country)
	}
	return o.ScheduleRetry(ctx, cb.OrderID, cb.Script, cb.Locale)
}

// Escalate передаёт заказ в колл-центр. Статус заказа в доставке не меняется.
func (o *Orchestrator) Escalate(ctx context.Context, orderID, reason string) error {
	logger := o.logger.WithFields(log.Fields{"order_id": orderID, "reason": reason})

	prev, err := o.deps.Orders.TransitionConfirmation(ctx, orderID, domain.ConfirmationCallCenter, "forwarded to call center: "+reason)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationTerminal) {
			logger.Info("confirmation already resolved, escalation skipped")
			return nil
		}
		return fmt.Errorf("escalate order %s: %w", orderID, err)
	}
	if prev == domain.ConfirmationCallCenter {
		logger.Debug("order already in call center queue")
		return nil
	}

	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	customer, err := o.deps.Customers.Get(ctx, order.CustomerID)
	if err != nil && !domain.IsNotFound(err) {
		return fmt.Errorf("load customer %s: %w", order.CustomerID, err)
	}

	now := o.now().UTC()
	if o.deps.Escalations != nil {
		if err := o.deps.Escalations.Push(ctx, escalationRecord(order, customer, reason, now)); err != nil {
			logger.WithError(err).Warn("failed to push escalation record")
		}
	}

	var attempts int
	if o.deps.Calls != nil {
		if attempts, err = o.deps.Calls.Count(ctx, orderID); err != nil {
			logger.WithError(err).Debug("failed to count attempts for event")
		}
	}
	o.setOutcome(ctx, order, domain.AssessmentOutcome{
		Result: domain.ActionResultForwardedToCallCenter,
		Notes:  reason,
	})
	o.metrics.RecordEscalation(reason)
	o.recordEvent(ctx, domain.EventConfirmationEscalated, domain.ConfirmationEvent{
		OrderID:    orderID,
		Status:     domain.ConfirmationCallCenter,
		Result:     domain.ActionResultForwardedToCallCenter,
		Reason:     reason,
		Attempts:   attempts,
		OccurredAt: now,
	})
	logger.Info("order escalated to call center")
	return nil
}

// ScriptURL строит адрес сценария звонка.
func (o *Orchestrator) ScriptURL(orderID string, script domain.ScriptType, locale string) string {
	return o.callbackURL("/voice/script", orderID, script, locale)
}

// ResponseURL строит адрес обработки ответа клиента.
func (o *Orchestrator) ResponseURL(orderID string, script domain.ScriptType, locale string) string {
	return o.callbackURL("/voice/response", orderID, script, locale)
}

// StatusURL строит адрес статусов звонка.
func (o *Orchestrator) StatusURL(orderID string, script domain.ScriptType, locale string) string {
	return o.callbackURL("/voice/status", orderID, script, locale)
}

func (o *Orchestrator) callbackURL(path, orderID string, script domain.ScriptType, locale string) string {
	q := url.Values{}
	q.Set("order_id", orderID)
	if script != "" {
		q.Set("script", string(script))
	}
	if locale != "" {
		q.Set("lang", locale)
	}
	return o.cfg.PublicBaseURL + path + "?" + q.Encode()
}

func (o *Orchestrator) delayFor(attemptsMade int) time.Duration {
	if attemptsMade < 0 {
		attemptsMade = 0
	}
	if attemptsMade >= len(o.cfg.RetryDelays) {
		return o.cfg.RetryDelays[len(o.cfg.RetryDelays)-1]
	}
	return o.cfg.RetryDelays[attemptsMade]
}

func (o *Orchestrator) phoneFor(ctx context.Context, order domain.Order) (string, error) {
	customer, err := o.deps.Customers.Get(ctx, order.CustomerID)
	if err != nil && !domain.IsNotFound(err) {
		return "", fmt.Errorf("load customer %s: %w", order.CustomerID, err)
	}
	if phone := strings.TrimSpace(customer.Phone); phone != "" {
		return phone, nil
	}
	return strings.TrimSpace(order.ShippingAddress.Phone), nil
}

// setOutcome пишет итог в текущую оценку заказа; ошибки только логируются.
func (o *Orchestrator) setOutcome(ctx context.Context, order domain.Order, outcome domain.AssessmentOutcome) {
	if o.deps.Assessments == nil {
		return
	}
	id := order.CurrentAssessmentID
	if id == "" {
		current, err := o.deps.Assessments.Current(ctx, order.ID)
		if err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Debug("no assessment to update")
			return
		}
		id = current.ID
	}
	if _, err := o.deps.Assessments.SetOutcome(ctx, id, outcome); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":      order.ID,
			"assessment_id": id,
		}).Warn("failed to record assessment outcome")
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, eventType string, event domain.ConfirmationEvent) {
	if err := outbox.Record(ctx, o.deps.Outbox, eventType, event.OrderID, event); err != nil {
		o.logger.WithError(err).WithField("order_id", event.OrderID).Warn("failed to enqueue confirmation event")
	}
}

// awaitingCall сообщает, что подтверждение ещё ждёт звонка: не решено и не передано людям.
func awaitingCall(order domain.Order) bool {
	return order.ConfirmationStatus == domain.ConfirmationPending
}

func retryKey(orderID string, attempt int) string {
	return fmt.Sprintf("call-retry:%s:%d", orderID, attempt)
}

func escalationRecord(order domain.Order, customer domain.Customer, reason string, now time.Time) domain.EscalationRecord {
	name := customer.Name
	if name == "" {
		name = order.ShippingAddress.FullName
	}
	phone := customer.Phone
	if phone == "" {
		phone = order.ShippingAddress.Phone
	}
	number := order.Number
	if number == "" {
		number = order.ID
	}
	return domain.EscalationRecord{
		OrderID:       order.ID,
		OrderNumber:   number,
		CustomerName:  name,
		CustomerPhone: phone,
		Address:       order.ShippingAddress.Format(),
		ItemCount:     order.ItemCount(),
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
		Reason:        reason,
		Priority:      domain.EscalationUrgent,
		CreatedAt:     now,
	}
}
