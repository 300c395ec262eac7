package confirmation

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/catalog"
	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/intent"
	"github.com/vladislavdragonenkov/codconfirm/internal/voice"
)

// Script собирает TwiML-сценарий звонка. Короткий: приветствие и сумма;
// длинный добавляет список товаров и адрес.
func (o *Orchestrator) Script(ctx context.Context, orderID string, script domain.ScriptType, locale string) ([]byte, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	if !script.Valid() {
		script = domain.ScriptShort
	}
	order, customer, err := o.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	loc := o.locale(order, locale)
	data := loc.OrderData(order, customer, o.cfg.StoreName)

	keys := []string{catalog.KeyGreeting, catalog.KeySummary}
	if script == domain.ScriptLong {
		keys = append(keys, catalog.KeyItems, catalog.KeyAddress)
	}
	phrases, err := render(loc, data, keys...)
	if err != nil {
		return nil, err
	}
	question, err := loc.Render(catalog.KeyQuestion, data)
	if err != nil {
		return nil, err
	}

	// Без ввода клиента сценарий уходит на обработчик ответа с пустыми данными.
	responseURL := o.ResponseURL(order.ID, script, loc.Code)
	return voice.NewBuilder(loc.Voice, loc.SayLanguage).
		Say(phrases...).
		Gather(responseURL, o.cfg.GatherTimeout, "", question).
		Redirect(responseURL).
		Bytes()
}

// Response описывает ответ клиента, присланный провайдером.
type Response struct {
	OrderID    string
	Script     domain.ScriptType
	Locale     string
	Digits     string
	Speech     string
	Confidence float64
}

// HandleResponse классифицирует ответ клиента, переводит подтверждение
// и возвращает TwiML с финальной фразой.
func (o *Orchestrator) HandleResponse(ctx context.Context, resp Response) ([]byte, error) {
	if resp.OrderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	order, customer, err := o.loadOrder(ctx, resp.OrderID)
	if err != nil {
		return nil, err
	}
	loc := o.locale(order, resp.Locale)
	data := loc.OrderData(order, customer, o.cfg.StoreName)
	logger := o.logger.WithField("order_id", order.ID)

	if order.ConfirmationStatus.Terminal() {
		logger.WithField("confirmation_status", order.ConfirmationStatus).Info("response for resolved order")
		return o.reply(loc, data, replyKey(order.ConfirmationStatus))
	}

	callIntent := intent.Classify(intent.Input{
		Digits:     resp.Digits,
		Speech:     resp.Speech,
		Confidence: resp.Confidence,
	})
	now := o.now().UTC()
	if _, err := o.deps.Calls.RecordResponse(ctx, order.ID, domain.CallResponse{
		Digits:       resp.Digits,
		SpeechResult: resp.Speech,
		Confidence:   resp.Confidence,
		Intent:       callIntent,
		RespondedAt:  now,
	}); err != nil {
		logger.WithError(err).Warn("failed to store call response")
	}
	o.metrics.RecordCallIntent(string(callIntent))
	logger.WithField("intent", callIntent).Info("call response classified")

	switch callIntent {
	case domain.IntentConfirmed:
		status, err := o.resolve(ctx, order, domain.ConfirmationConfirmed, domain.ActionResultConfirmedByCall, "confirmed by customer call")
		if err != nil {
			return nil, err
		}
		return o.reply(loc, data, replyKey(status))
	case domain.IntentCancelled:
		status, err := o.resolve(ctx, order, domain.ConfirmationDeclined, domain.ActionResultCancelledByCustomer, "cancelled by customer call")
		if err != nil {
			return nil, err
		}
		return o.reply(loc, data, replyKey(status))
	default:
		if err := o.Escalate(ctx, order.ID, ReasonUnclear); err != nil {
			return nil, err
		}
		return o.reply(loc, data, catalog.KeyUnclear)
	}
}

// resolve переводит подтверждение в конечный статус. Возвращает фактический
// статус: при гонке с другим обработчиком это статус, который успел записать он.
func (o *Orchestrator) resolve(ctx context.Context, order domain.Order, to domain.ConfirmationStatus, result domain.ActionResult, note string) (domain.ConfirmationStatus, error) {
	logger := o.logger.WithFields(log.Fields{"order_id": order.ID, "to": to})

	if _, err := o.deps.Orders.TransitionConfirmation(ctx, order.ID, to, note); err != nil {
		if errors.Is(err, domain.ErrConfirmationTerminal) {
			current, getErr := o.deps.Orders.Get(ctx, order.ID)
			if getErr != nil {
				return "", fmt.Errorf("reload order %s: %w", order.ID, getErr)
			}
			logger.WithField("confirmation_status", current.ConfirmationStatus).Info("confirmation resolved concurrently")
			return current.ConfirmationStatus, nil
		}
		return "", fmt.Errorf("transition confirmation: %w", err)
	}

	if to == domain.ConfirmationDeclined {
		o.cancelOrder(ctx, order.ID, note)
	}
	o.setOutcome(ctx, order, domain.AssessmentOutcome{Result: result, Notes: note})

	attempts, err := o.deps.Calls.Count(ctx, order.ID)
	if err != nil {
		logger.WithError(err).Debug("failed to count attempts for event")
	}
	o.recordEvent(ctx, domain.EventConfirmationResolved, domain.ConfirmationEvent{
		OrderID:    order.ID,
		Status:     to,
		Result:     result,
		Reason:     note,
		Attempts:   attempts,
		OccurredAt: o.now().UTC(),
	})
	logger.Info("confirmation resolved")
	return to, nil
}

// cancelOrder отменяет заказ; запрещённый переход (посылка уже в пути) только логируется.
func (o *Orchestrator) cancelOrder(ctx context.Context, orderID, note string) {
	cancelled := domain.OrderStatusCancelled
	if _, err := o.deps.Orders.UpdateStatus(ctx, orderID, domain.OrderStatusUpdate{
		OrderStatus: &cancelled,
		Note:        note,
	}); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("failed to cancel order")
	}
}

func (o *Orchestrator) reply(loc *catalog.Locale, data catalog.Data, key string) ([]byte, error) {
	text, err := loc.Render(key, data)
	if err != nil {
		return nil, err
	}
	return voice.NewBuilder(loc.Voice, loc.SayLanguage).Say(text).Hangup().Bytes()
}

func (o *Orchestrator) loadOrder(ctx context.Context, orderID string) (domain.Order, domain.Customer, error) {
	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.Customer{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	customer, err := o.deps.Customers.Get(ctx, order.CustomerID)
	if err != nil && !domain.IsNotFound(err) {
		return domain.Order{}, domain.Customer{}, fmt.Errorf("load customer %s: %w", order.CustomerID, err)
	}
	return order, customer, nil
}

// locale выбирает локаль из параметра звонка или по стране доставки.
func (o *Orchestrator) locale(order domain.Order, code string) *catalog.Locale {
	if code == "" {
		code = o.deps.Catalog.DetectLocale(order.ShippingAddress.Country)
	}
	return o.deps.Catalog.Locale(code)
}

func render(loc *catalog.Locale, data catalog.Data, keys ...string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		text, err := loc.Render(key, data)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

func replyKey(status domain.ConfirmationStatus) string {
	switch status {
	case domain.ConfirmationConfirmed:
		return catalog.KeyConfirmed
	case domain.ConfirmationDeclined:
		return catalog.KeyCancelled
	default:
		return catalog.KeyUnclear
	}
}
