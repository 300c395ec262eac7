package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/service/shipment"
)

// doer выполняет HTTP-запросы; *http.Client ему удовлетворяет.
type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type scenario struct {
	client doer
	cfg    config
	col    *collector
}

// run выполняет один сценарий режима и записывает его итог под именем scenario.
func (s scenario) run(index int) (err error) {
	started := time.Now()
	status := http.StatusOK
	defer func() { s.col.record(scenarioEndpoint, time.Since(started), status) }()

	if s.cfg.mode == modeWebhook {
		body, merr := json.Marshal(webhookFor(s.cfg, index, time.Now().UTC()))
		if merr != nil {
			status = transportFailure
			return merr
		}
		status, err = s.call("CarrierWebhook", http.MethodPost, "/webhooks/carrier", body)
		return err
	}

	orderID := orderIDFor(s.cfg, index)
	if status, err = s.call("AssessOrder", http.MethodPost, "/api/risk/orders/"+url.PathEscape(orderID)+"/assess", nil); err != nil {
		return err
	}
	if s.cfg.mode == modeAssessRead {
		status, err = s.call("GetOrder", http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil)
	}
	return err
}

func (s scenario) call(endpoint, method, path string, body []byte) (int, error) {
	started := time.Now()
	status, err := s.do(method, s.cfg.baseURL+path, body)
	s.col.record(endpoint, time.Since(started), status)
	if err == nil && !isSuccess(status) {
		err = fmt.Errorf("%s: status %d", endpoint, status)
	}
	return status, err
}

func (s scenario) do(method, target string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, payload)
	if err != nil {
		return transportFailure, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return transportFailure, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// orderIDFor циклически обходит заранее заведённые заказы.
func orderIDFor(cfg config, index int) string {
	return cfg.orderPrefix + strconv.Itoa(index%cfg.orders)
}

// webhookFor собирает пакет агрегатора с одним обновлением «в пути».
func webhookFor(cfg config, index int, now time.Time) shipment.Webhook {
	return shipment.Webhook{
		Event: shipment.EventTrackingUpdated,
		Data: shipment.WebhookData{Accepted: []shipment.TrackItem{{
			Number:  fmt.Sprintf("%s%06d", cfg.trackPrefix, index%cfg.orders),
			Carrier: shipment.Carrier(cfg.carrier),
			TrackInfo: shipment.TrackInfo{
				LatestStatus: shipment.LatestStatus{Status: "InTransit", SubStatus: "InTransit_Other"},
				LatestEvent: shipment.LatestEvent{
					Description: "load test",
					Location:    "load",
					TimeISO:     now.Format(time.RFC3339),
				},
			},
		}}},
	}
}
