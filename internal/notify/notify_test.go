package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
)

type stubMessageAPI struct {
	to, body string
	err      error
}

func (s *stubMessageAPI) SendMessage(_ context.Context, to, body string) (domain.Delivery, error) {
	s.to, s.body = to, body
	if s.err != nil {
		return domain.Delivery{}, s.err
	}
	return domain.Delivery{ID: "SM1", Status: "queued"}, nil
}

func TestSMSSender(t *testing.T) {
	api := &stubMessageAPI{}
	sender := NewSMSSender(api)

	delivery, err := sender.Send(context.Background(), "+34600000000", "Su pedido está en camino")
	require.NoError(t, err)
	require.Equal(t, "SM1", delivery.ID)
	require.Equal(t, "+34600000000", api.to)

	_, err = sender.Send(context.Background(), " ", "x")
	require.ErrorIs(t, err, ErrEmptyDestination)
}

func TestChatSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer chat-token", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "+39300000000", req.To)
		require.Equal(t, "Ciao", req.Text)
		_, _ = w.Write([]byte(`{"id":"msg-7","status":"delivered"}`))
	}))
	defer srv.Close()

	sender := NewChatSender(ChatConfig{URL: srv.URL, Token: "chat-token"}, srv.Client())
	delivery, err := sender.Send(context.Background(), "+39300000000", "Ciao")
	require.NoError(t, err)
	require.Equal(t, domain.Delivery{ID: "msg-7", Status: "delivered"}, delivery)
}

func TestChatSenderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "session expired", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sender := NewChatSender(ChatConfig{URL: srv.URL}, srv.Client())
	_, err := sender.Send(context.Background(), "+39300000000", "Ciao")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestChatSenderEmptyBodyIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	delivery, err := NewChatSender(ChatConfig{URL: srv.URL}, srv.Client()).Send(context.Background(), "+1", "x")
	require.NoError(t, err)
	require.Equal(t, "sent", delivery.Status)
}

func TestLogSender(t *testing.T) {
	delivery, err := NewLogSender("chat", nil).Send(context.Background(), "+1", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, delivery.ID)
	require.Equal(t, "logged", delivery.Status)
}

func TestInstrumentedCountsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegisterer(reg)

	ok := WithMetrics(NewSMSSender(&stubMessageAPI{}), "sms", m)
	failing := WithMetrics(NewSMSSender(&stubMessageAPI{err: errors.New("down")}), "sms", m)

	_, err := ok.Send(context.Background(), "+1", "a")
	require.NoError(t, err)
	_, err = failing.Send(context.Background(), "+1", "b")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "codconfirm_notifications_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" {
					results[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"sent": 1, "error": 1}, results)
}
