package confirmation

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// ReviewRequest содержит решение оператора колл-центра по оценке.
type ReviewRequest struct {
	Result   domain.ActionResult `json:"result"`
	Notes    string              `json:"notes"`
	Reviewer string              `json:"reviewer"`
}

// Review фиксирует решение оператора и применяет его к заказу:
// approved подтверждает, rejected отклоняет и отменяет, prepayment только отмечает.
func (o *Orchestrator) Review(ctx context.Context, assessmentID string, req ReviewRequest) (domain.RiskAssessment, error) {
	if !req.Result.ReviewResult() {
		return domain.RiskAssessment{}, fmt.Errorf("%w: %q", domain.ErrInvalidReviewResult, req.Result)
	}

	assessment, err := o.deps.Assessments.Get(ctx, assessmentID)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("load assessment %s: %w", assessmentID, err)
	}
	order, err := o.deps.Orders.Get(ctx, assessment.OrderID)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("load order %s: %w", assessment.OrderID, err)
	}
	if req.Result != domain.ActionResultPrepayment && order.ConfirmationStatus.Terminal() {
		return domain.RiskAssessment{}, fmt.Errorf("order %s: %w: %s", order.ID, domain.ErrConfirmationTerminal, order.ConfirmationStatus)
	}

	now := o.now().UTC()
	updated, err := o.deps.Assessments.SetOutcome(ctx, assessmentID, domain.AssessmentOutcome{
		Result:     req.Result,
		Notes:      req.Notes,
		ReviewedBy: req.Reviewer,
		ReviewedAt: &now,
	})
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("record review: %w", err)
	}

	note := reviewNote(req)
	logger := o.logger.WithFields(log.Fields{
		"order_id":      order.ID,
		"assessment_id": assessmentID,
		"result":        req.Result,
		"reviewer":      req.Reviewer,
	})

	var to domain.ConfirmationStatus
	switch req.Result {
	case domain.ActionResultApproved:
		to = domain.ConfirmationConfirmed
	case domain.ActionResultRejected:
		to = domain.ConfirmationDeclined
	default:
		if err := o.deps.Orders.AppendNote(ctx, order.ID, note); err != nil {
			return updated, fmt.Errorf("append review note: %w", err)
		}
		logger.Info("prepayment requested by reviewer")
		return updated, nil
	}

	if _, err := o.deps.Orders.TransitionConfirmation(ctx, order.ID, to, note); err != nil {
		return updated, fmt.Errorf("apply review to order %s: %w", order.ID, err)
	}
	if to == domain.ConfirmationDeclined {
		o.cancelOrder(ctx, order.ID, note)
	}
	o.recordEvent(ctx, domain.EventConfirmationResolved, domain.ConfirmationEvent{
		OrderID:    order.ID,
		Status:     to,
		Result:     req.Result,
		Reason:     note,
		OccurredAt: now,
	})
	logger.Info("assessment reviewed")
	return updated, nil
}

func reviewNote(req ReviewRequest) string {
	var b strings.Builder
	b.WriteString("review ")
	b.WriteString(string(req.Result))
	if req.Reviewer != "" {
		b.WriteString(" by ")
		b.WriteString(req.Reviewer)
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		b.WriteString(": ")
		b.WriteString(notes)
	}
	return b.String()
}
