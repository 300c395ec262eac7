// Package dispatch направляет оценку риска к действию: звонок или колл-центр.
package dispatch

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// ReasonHighRisk используется как причина эскалации заказа высокого риска.
const ReasonHighRisk = "high_risk"

// Confirmer выполняет действия подтверждения.
type Confirmer interface {
	StartConfirmation(ctx context.Context, orderID string, script domain.ScriptType) error
	Escalate(ctx context.Context, orderID, reason string) error
}

// Route описывает действие для уровня риска.
type Route struct {
	Action domain.RiskAction
	Script domain.ScriptType
}

// RouteFor возвращает действие по таблице маршрутизации.
func RouteFor(tier domain.RiskTier) Route {
	switch tier {
	case domain.RiskTierLow:
		return Route{Action: domain.RiskActionShortCall, Script: domain.ScriptShort}
	case domain.RiskTierMedium:
		return Route{Action: domain.RiskActionLongCall, Script: domain.ScriptLong}
	case domain.RiskTierHigh:
		return Route{Action: domain.RiskActionCallCenter}
	default:
		return Route{Action: domain.RiskActionAutoReject}
	}
}

// Dispatcher маршрутизирует оценки.
type Dispatcher struct {
	confirmer Confirmer
	logger    *log.Entry
}

// New создаёт маршрутизатор.
func New(confirmer Confirmer, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "risk-dispatcher")
	}
	return &Dispatcher{confirmer: confirmer, logger: logger}
}

// Dispatch выполняет действие для уровня оценки. BLOCKED уже обработан движком.
func (d *Dispatcher) Dispatch(ctx context.Context, assessment domain.RiskAssessment) error {
	route := RouteFor(assessment.Tier)
	d.logger.WithFields(log.Fields{
		"order_id":      assessment.OrderID,
		"assessment_id": assessment.ID,
		"action":        route.Action,
	}).Debug("dispatching risk action")

	switch route.Action {
	case domain.RiskActionShortCall, domain.RiskActionLongCall:
		if err := d.confirmer.StartConfirmation(ctx, assessment.OrderID, route.Script); err != nil {
			return fmt.Errorf("start %s confirmation: %w", route.Script, err)
		}
	case domain.RiskActionCallCenter:
		if err := d.confirmer.Escalate(ctx, assessment.OrderID, ReasonHighRisk); err != nil {
			return fmt.Errorf("escalate: %w", err)
		}
	}
	return nil
}
