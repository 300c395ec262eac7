package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/confirmation"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/risk"
	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
	"github.com/vladislavdragonenkov/codconfirm/internal/storage/memory"
)

type stubRisk struct {
	assessment domain.RiskAssessment
	err        error
	queue      []risk.QueueEntry
}

func (s *stubRisk) Assess(_ context.Context, orderID string) (domain.RiskAssessment, error) {
	if s.err != nil {
		return domain.RiskAssessment{}, s.err
	}
	a := s.assessment
	a.OrderID = orderID
	return a, nil
}

func (s *stubRisk) Current(_ context.Context, orderID string) (domain.RiskAssessment, error) {
	if s.assessment.ID == "" {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	a := s.assessment
	a.OrderID = orderID
	return a, nil
}

func (s *stubRisk) CallCenterQueue(context.Context) ([]risk.QueueEntry, error) {
	return s.queue, nil
}

type stubConfirmation struct {
	review    confirmation.ReviewRequest
	reviewErr error
	response  confirmation.Response
	status    []confirmation.StatusCallback
	statusErr error
}

func (s *stubConfirmation) Review(_ context.Context, assessmentID string, req confirmation.ReviewRequest) (domain.RiskAssessment, error) {
	s.review = req
	if s.reviewErr != nil {
		return domain.RiskAssessment{}, s.reviewErr
	}
	return domain.RiskAssessment{ID: assessmentID, ActionResult: req.Result, ReviewedBy: req.Reviewer}, nil
}

func (s *stubConfirmation) Script(_ context.Context, orderID string, script domain.ScriptType, locale string) ([]byte, error) {
	if orderID == "" {
		return nil, domain.ErrOrderIDRequired
	}
	if orderID == "missing" {
		return nil, domain.ErrOrderNotFound
	}
	return []byte(fmt.Sprintf("<Response><Say>%s %s %s</Say></Response>", orderID, script, locale)), nil
}

func (s *stubConfirmation) HandleResponse(_ context.Context, resp confirmation.Response) ([]byte, error) {
	s.response = resp
	return []byte("<Response><Say>ok</Say></Response>"), nil
}

func (s *stubConfirmation) HandleStatus(_ context.Context, cb confirmation.StatusCallback) error {
	s.status = append(s.status, cb)
	return s.statusErr
}

type stubShipment struct {
	hooks []shipment.Webhook
}

func (s *stubShipment) HandleWebhook(_ context.Context, hook shipment.Webhook) shipment.Summary {
	s.hooks = append(s.hooks, hook)
	return shipment.Summary{Applied: len(hook.Data.Accepted)}
}

type fixture struct {
	server       *Server
	risk         *stubRisk
	confirmation *stubConfirmation
	shipment     *stubShipment
	orders       domain.OrderRepository
	calls        domain.CallLogRepository
	tracking     domain.TrackingHistoryRepository
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	f := &fixture{
		risk:         &stubRisk{},
		confirmation: &stubConfirmation{},
		shipment:     &stubShipment{},
		orders:       memory.NewOrderRepository(),
		calls:        memory.NewCallLogRepository(),
		tracking:     memory.NewTrackingRepository(),
	}
	f.server = New(Dependencies{
		Risk:         f.risk,
		Confirmation: f.confirmation,
		Shipment:     f.shipment,
		Orders:       f.orders,
		Calls:        f.calls,
		Tracking:     f.tracking,
	}, Config{JWTSecret: secret}, nil)

	require.NoError(t, f.orders.Create(context.Background(), domain.Order{
		ID:          "o-1",
		Number:      "1001",
		CustomerID:  "c-1",
		AmountMinor: 6000,
		Currency:    "EUR",
		Items:       []domain.OrderItem{{ID: "i-1", ProductID: "p-1", Name: "Camiseta", Qty: 1, PriceMinor: 6000}},
	}))
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAssessOrder(t *testing.T) {
	f := newFixture(t, "")
	f.risk.assessment = domain.RiskAssessment{ID: "a-1", Score: 3, Tier: domain.RiskTierMedium, Action: domain.RiskActionLongCall}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/risk/orders/o-1/assess", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.RiskAssessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "o-1", got.OrderID)
	require.Equal(t, domain.RiskTierMedium, got.Tier)
}

func TestAssessOrderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "not found", err: domain.ErrOrderNotFound, code: http.StatusNotFound},
		{name: "validation", err: fmt.Errorf("assess: %w", domain.ErrCustomerRequired), code: http.StatusBadRequest},
		{name: "conflict", err: domain.ErrInvalidTransition, code: http.StatusConflict},
		{name: "internal", err: fmt.Errorf("db down"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.risk.err = tt.err

			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/risk/orders/o-1/assess", nil))
			require.Equal(t, tt.code, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.code, body.Code)
			if tt.code == http.StatusInternalServerError {
				require.NotContains(t, body.Message, "db down")
			}
		})
	}
}

func TestGetOrderWithAssessment(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/orders/o-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "1001", view.Order.Number)
	require.Nil(t, view.Assessment)

	f.risk.assessment = domain.RiskAssessment{ID: "a-1", Tier: domain.RiskTierLow}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/orders/o-1", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Assessment)
	require.Equal(t, "a-1", view.Assessment.ID)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCallsAndTracking(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.calls.Reserve(ctx, domain.CallLog{OrderID: "o-1", AttemptNumber: 1, ScriptType: domain.ScriptShort})
	require.NoError(t, err)
	require.NoError(t, f.tracking.Append(ctx, domain.TrackingHistoryEntry{OrderID: "o-1", Status: "InTransit", EventTime: time.Now()}))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/orders/o-1/calls", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var calls []domain.CallLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	require.Len(t, calls, 1)
	require.Equal(t, 1, calls[0].AttemptNumber)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/orders/o-1/tracking", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.TrackingHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/orders/missing/calls", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/orders/missing/tracking", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewWithoutAuth(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/risk/assessments/a-1/review",
		strings.NewReader(`{"result":" Approved ","notes":"ok","reviewer":"anna"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, domain.ActionResultApproved, f.confirmation.review.Result)
	require.Equal(t, "anna", f.confirmation.review.Reviewer)
}

func TestReviewErrors(t *testing.T) {
	f := newFixture(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/risk/assessments/a-1/review", strings.NewReader(`{"result":`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusBadRequest, f.do(req).Code)

	f.confirmation.reviewErr = fmt.Errorf("review: %w", domain.ErrInvalidReviewResult)
	req = httptest.NewRequest(http.MethodPost, "/api/risk/assessments/a-1/review", strings.NewReader(`{"result":"maybe"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusBadRequest, f.do(req).Code)

	f.confirmation.reviewErr = domain.ErrConfirmationTerminal
	req = httptest.NewRequest(http.MethodPost, "/api/risk/assessments/a-1/review", strings.NewReader(`{"result":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusConflict, f.do(req).Code)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	f := newFixture(t, "secret")
	f.risk.queue = []risk.QueueEntry{{Assessment: domain.RiskAssessment{ID: "a-9"}}}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/risk/call-center", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/risk/call-center", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	require.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	token, err := f.server.auth.IssueToken("marco", time.Hour)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/risk/call-center", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []risk.QueueEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue, 1)

	// Ревьюер по умолчанию берётся из токена.
	req = httptest.NewRequest(http.MethodPost, "/api/risk/assessments/a-9/review", strings.NewReader(`{"result":"rejected"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, f.do(req).Code)
	require.Equal(t, "marco", f.confirmation.review.Reviewer)

	// Публичные маршруты не требуют токена.
	require.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/api/orders/o-1", nil)).Code)
}

func TestAuthenticatorRejectsExpiredAndForeignTokens(t *testing.T) {
	auth := NewAuthenticator("secret")
	auth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := auth.IssueToken("marco", time.Hour)
	require.NoError(t, err)

	auth.now = time.Now
	_, err = auth.Validate(expired)
	require.Error(t, err)

	foreign, err := NewAuthenticator("other").IssueToken("marco", time.Hour)
	require.NoError(t, err)
	_, err = auth.Validate(foreign)
	require.Error(t, err)

	_, err = NewAuthenticator("").IssueToken("marco", time.Hour)
	require.Error(t, err)
}

func TestVoiceScript(t *testing.T) {
	f := newFixture(t, "")

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := f.do(httptest.NewRequest(method, "/voice/script?order_id=o-1&script=long&lang=es", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
		require.Contains(t, rec.Body.String(), "o-1 long es")
	}

	require.Equal(t, http.StatusBadRequest, f.do(httptest.NewRequest(http.MethodGet, "/voice/script", nil)).Code)
	require.Equal(t, http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/voice/script?order_id=missing", nil)).Code)
}

func TestVoiceResponsePassesProviderPayload(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(formRequest("/voice/response?order_id=o-1&script=short&lang=it", url.Values{
		"Digits":       {"1"},
		"SpeechResult": {"sì confermo"},
		"Confidence":   {"0.87"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, confirmation.Response{
		OrderID:    "o-1",
		Script:     domain.ScriptShort,
		Locale:     "it",
		Digits:     "1",
		Speech:     "sì confermo",
		Confidence: 0.87,
	}, f.confirmation.response)
}

func TestVoiceStatusAlwaysAcknowledges(t *testing.T) {
	f := newFixture(t, "")
	f.confirmation.statusErr = domain.ErrOrderNotFound

	rec := f.do(formRequest("/voice/status?order_id=o-1", url.Values{
		"CallSid":    {"CA-1"},
		"CallStatus": {"No-Answer"},
	}))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.confirmation.status, 1)
	require.Equal(t, domain.CallStatusNoAnswer, f.confirmation.status[0].Status)
	require.Equal(t, "CA-1", f.confirmation.status[0].CallSID)
}

func TestCarrierWebhookAlwaysAcknowledges(t *testing.T) {
	f := newFixture(t, "")

	body := `{"event":"TRACKING_UPDATED","data":{"accepted":[{"number":"TRK1","carrier":3011}]}}`
	rec := f.do(httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Len(t, f.shipment.hooks, 1)
	require.Equal(t, shipment.Carrier("3011"), f.shipment.hooks[0].Data.Accepted[0].Carrier)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(`{"event":`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Len(t, f.shipment.hooks, 1)
}

func TestCarrierWebhookOversizedBodyIsReported(t *testing.T) {
	f := newFixture(t, "")
	logger, hook := logtest.NewNullLogger()
	f.server.logger = logger.WithField("component", "httpapi-test")

	payload := `{"event":"TRACKING_UPDATED","data":{"accepted":[{"number":"TRK1","carrier":3011}]}}`
	atLimit := payload + strings.Repeat(" ", maxWebhookBody-len(payload))
	rec := f.do(httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(atLimit)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.shipment.hooks, 1, "body exactly at the limit is processed")

	rec = f.do(httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(atLimit+" ")))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Len(t, f.shipment.hooks, 1)

	var messages []string
	for _, entry := range hook.AllEntries() {
		if entry.Level <= log.WarnLevel {
			messages = append(messages, entry.Message)
		}
	}
	require.Equal(t, []string{"oversized carrier webhook dropped"}, messages)
}
