package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/confirmation"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
)

const maxWebhookBody = 1 << 20

// OrderView объединяет заказ с текущей оценкой риска.
type OrderView struct {
	Order      domain.Order           `json:"order"`
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
}

// AssessOrder обрабатывает POST /api/risk/orders/:id/assess.
func (s *Server) AssessOrder(c echo.Context) error {
	assessment, err := s.deps.Risk.Assess(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, assessment)
}

// ReviewAssessment обрабатывает POST /api/risk/assessments/:id/review.
func (s *Server) ReviewAssessment(c echo.Context) error {
	var req confirmation.ReviewRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.Result = domain.ActionResult(strings.ToLower(strings.TrimSpace(string(req.Result))))
	if strings.TrimSpace(req.Reviewer) == "" {
		req.Reviewer = operatorFrom(c)
	}

	updated, err := s.deps.Confirmation.Review(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// CallCenterQueue обрабатывает GET /api/risk/call-center.
func (s *Server) CallCenterQueue(c echo.Context) error {
	entries, err := s.deps.Risk.CallCenterQueue(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// GetOrder обрабатывает GET /api/orders/:id.
func (s *Server) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	order, err := s.deps.Orders.Get(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	view := OrderView{Order: order}
	assessment, err := s.deps.Risk.Current(ctx, order.ID)
	switch {
	case err == nil:
		view.Assessment = &assessment
	case !errors.Is(err, domain.ErrAssessmentNotFound):
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// ListCalls обрабатывает GET /api/orders/:id/calls.
func (s *Server) ListCalls(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.deps.Orders.Get(ctx, c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	calls, err := s.deps.Calls.ListByOrder(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, calls)
}

// ListTracking обрабатывает GET /api/orders/:id/tracking.
func (s *Server) ListTracking(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.deps.Orders.Get(ctx, c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	entries, err := s.deps.Tracking.ListByOrder(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// VoiceScript отдаёт TwiML-сценарий звонка.
func (s *Server) VoiceScript(c echo.Context) error {
	body, err := s.deps.Confirmation.Script(
		c.Request().Context(),
		c.QueryParam("order_id"),
		domain.ScriptType(c.QueryParam("script")),
		c.QueryParam("lang"),
	)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, body)
}

// VoiceResponse классифицирует ответ клиента и отдаёт финальную фразу.
func (s *Server) VoiceResponse(c echo.Context) error {
	confidence, _ := strconv.ParseFloat(strings.TrimSpace(c.FormValue("Confidence")), 64)
	body, err := s.deps.Confirmation.HandleResponse(c.Request().Context(), confirmation.Response{
		OrderID:    c.QueryParam("order_id"),
		Script:     domain.ScriptType(c.QueryParam("script")),
		Locale:     c.QueryParam("lang"),
		Digits:     c.FormValue("Digits"),
		Speech:     c.FormValue("SpeechResult"),
		Confidence: confidence,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, body)
}

// VoiceStatus принимает статус звонка. Провайдер всегда получает 204.
func (s *Server) VoiceStatus(c echo.Context) error {
	cb := confirmation.StatusCallback{
		OrderID: c.QueryParam("order_id"),
		CallSID: c.FormValue("CallSid"),
		Status:  domain.CallStatus(strings.ToLower(strings.TrimSpace(c.FormValue("CallStatus")))),
		Script:  domain.ScriptType(c.QueryParam("script")),
		Locale:  c.QueryParam("lang"),
	}
	if err := s.deps.Confirmation.HandleStatus(c.Request().Context(), cb); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    cb.OrderID,
			"call_status": cb.Status,
		}).Warn("call status callback failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// CarrierWebhook принимает пакет событий перевозчика и всегда подтверждает приём.
func (s *Server) CarrierWebhook(c echo.Context) error {
	ack := map[string]string{"status": "ok"}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		s.logger.WithError(err).Warn("read carrier webhook body")
		return c.JSON(http.StatusOK, ack)
	}
	if len(body) > maxWebhookBody {
		s.logger.WithFields(log.Fields{
			"limit_bytes":    maxWebhookBody,
			"content_length": c.Request().ContentLength,
		}).Error("oversized carrier webhook dropped")
		return c.JSON(http.StatusOK, ack)
	}
	hook, err := shipment.ParseWebhook(body)
	if err != nil {
		s.logger.WithError(err).Warn("malformed carrier webhook")
		return c.JSON(http.StatusOK, ack)
	}

	summary := s.deps.Shipment.HandleWebhook(c.Request().Context(), hook)
	s.logger.WithFields(log.Fields{
		"event":    hook.Event,
		"applied":  summary.Applied,
		"recorded": summary.Recorded,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
	}).Info("carrier webhook processed")
	return c.JSON(http.StatusOK, ack)
}
