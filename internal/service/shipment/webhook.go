package shipment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventTrackingUpdated задаёт единственный тип события перевозчика, который меняет заказ.
const EventTrackingUpdated = "TRACKING_UPDATED"

// Webhook описывает пакет событий от агрегатора трекинга.
type Webhook struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData содержит принятые трек-номера.
type WebhookData struct {
	Accepted []TrackItem `json:"accepted"`
}

// TrackItem описывает состояние одной посылки.
type TrackItem struct {
	Number    string    `json:"number"`
	Carrier   Carrier   `json:"carrier"`
	TrackInfo TrackInfo `json:"track_info"`
}

// TrackInfo содержит последний статус и последнее событие посылки.
type TrackInfo struct {
	LatestStatus LatestStatus `json:"latest_status"`
	LatestEvent  LatestEvent  `json:"latest_event"`
}

// LatestStatus содержит основной статус и подстатус.
type LatestStatus struct {
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
}

// LatestEvent описывает последнее событие.
type LatestEvent struct {
	Description string `json:"description"`
	Location    string `json:"location"`
	TimeISO     string `json:"time_iso"`
}

// Carrier хранит код перевозчика; агрегатор присылает его то строкой, то числом.
type Carrier string

// UnmarshalJSON принимает строку, число или null.
func (c *Carrier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("carrier: %w", err)
		}
		*c = Carrier(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("carrier: %w", err)
	}
	*c = Carrier(n.String())
	return nil
}

// ParseWebhook разбирает тело запроса агрегатора.
func ParseWebhook(body []byte) (Webhook, error) {
	var hook Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return Webhook{}, fmt.Errorf("decode carrier webhook: %w", err)
	}
	return hook, nil
}

// eventTime разбирает время события; без него используется fallback.
func (e LatestEvent) eventTime(fallback time.Time) time.Time {
	raw := strings.TrimSpace(e.TimeISO)
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC()
	}
	return fallback
}
