// Package notify доставляет уведомления клиенту: SMS, чат-шлюз и журнал для разработки.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/metrics"
	"github.com/vladislavdragonenkov/codconfirm/internal/version"
)

const (
	defaultChatTimeout = 10 * time.Second
	maxErrorBody       = 4 << 10
)

// ErrEmptyDestination возвращается, если не указан адрес получателя.
var ErrEmptyDestination = errors.New("notification destination is empty")

// MessageAPI отправляет текстовое сообщение через провайдера (voice.Client).
type MessageAPI interface {
	SendMessage(ctx context.Context, to, body string) (domain.Delivery, error)
}

// SMSSender отправляет SMS через API голосового провайдера.
type SMSSender struct {
	api MessageAPI
}

// NewSMSSender создаёт SMS-канал.
func NewSMSSender(api MessageAPI) *SMSSender {
	return &SMSSender{api: api}
}

// Send отправляет короткое сообщение.
func (s *SMSSender) Send(ctx context.Context, destination, body string) (domain.Delivery, error) {
	if strings.TrimSpace(destination) == "" {
		return domain.Delivery{}, ErrEmptyDestination
	}
	return s.api.SendMessage(ctx, destination, body)
}

// ChatConfig задаёт параметры HTTP-шлюза мессенджера.
type ChatConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// ChatSender отправляет сообщения в чат-шлюз JSON-запросом.
type ChatSender struct {
	cfg  ChatConfig
	http *http.Client
}

// NewChatSender создаёт чат-канал; httpClient может быть nil.
func NewChatSender(cfg ChatConfig, httpClient *http.Client) *ChatSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultChatTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &ChatSender{cfg: cfg, http: httpClient}
}

type chatRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type chatResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Send публикует сообщение в шлюз и возвращает идентификатор доставки.
func (c *ChatSender) Send(ctx context.Context, destination, body string) (domain.Delivery, error) {
	if strings.TrimSpace(destination) == "" {
		return domain.Delivery{}, ErrEmptyDestination
	}

	payload, err := json.Marshal(chatRequest{To: destination, Text: body})
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("marshal chat message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Delivery{}, fmt.Errorf("chat gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return domain.Delivery{}, fmt.Errorf("decode chat response: %w", err)
	}
	if out.Status == "" {
		out.Status = "sent"
	}
	return domain.Delivery{ID: out.ID, Status: out.Status}, nil
}

// LogSender пишет сообщения в лог вместо реальной отправки.
type LogSender struct {
	channel string
	logger  *log.Entry
}

// NewLogSender создаёт канал-заглушку.
func NewLogSender(channel string, logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &LogSender{channel: channel, logger: logger}
}

func (l *LogSender) Send(_ context.Context, destination, body string) (domain.Delivery, error) {
	id := uuid.NewString()
	l.logger.WithFields(log.Fields{
		"channel":     l.channel,
		"destination": destination,
		"delivery_id": id,
	}).Info(body)
	return domain.Delivery{ID: id, Status: "logged"}, nil
}

// Instrumented считает отправки канала в метриках.
type Instrumented struct {
	next    domain.Sender
	channel string
	metrics *metrics.Metrics
}

// WithMetrics оборачивает канал счётчиком отправок.
func WithMetrics(next domain.Sender, channel string, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, channel: channel, metrics: m}
}

func (i *Instrumented) Send(ctx context.Context, destination, body string) (domain.Delivery, error) {
	delivery, err := i.next.Send(ctx, destination, body)
	if err != nil {
		i.metrics.RecordNotification(i.channel, "error")
		return delivery, err
	}
	i.metrics.RecordNotification(i.channel, "sent")
	return delivery, nil
}

var (
	_ domain.Sender = (*SMSSender)(nil)
	_ domain.Sender = (*ChatSender)(nil)
	_ domain.Sender = (*LogSender)(nil)
	_ domain.Sender = (*Instrumented)(nil)
)
