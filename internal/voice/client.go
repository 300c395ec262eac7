// Package voice содержит клиент голосового провайдера (Twilio-совместимый REST API) и генерацию TwiML.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
	"github.com/vladislavdragonenkov/codconfirm/internal/version"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrNotConfigured возвращается, если не заданы учётные данные провайдера.
var ErrNotConfigured = errors.New("voice provider is not configured")

// Config задаёт параметры подключения к провайдеру.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

// Enabled сообщает, что заданы учётные данные.
func (c Config) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// APIError описывает ошибку, которую вернул провайдер.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voice provider error: http %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

// Client вызывает REST API провайдера.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Entry
}

// NewClient создаёт клиента; httpClient может быть nil.
func NewClient(cfg Config, httpClient *http.Client, logger *log.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.WithField("component", "voice-client")
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

type resourceResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall заказывает исходящий звонок с IVR по CallbackURL.
func (c *Client) PlaceCall(ctx context.Context, req domain.CallRequest) (string, error) {
	if !c.cfg.Enabled() {
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Url", req.CallbackURL)
	form.Set("Method", http.MethodPost)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		form.Add("StatusCallbackEvent", "completed")
	}

	var res resourceResponse
	if err := c.postForm(ctx, "Calls.json", form, &res); err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	c.logger.WithFields(log.Fields{"call_sid": res.SID, "status": res.Status}).Debug("call requested")
	return res.SID, nil
}

// SendMessage отправляет SMS через тот же аккаунт.
func (c *Client) SendMessage(ctx context.Context, to, body string) (domain.Delivery, error) {
	if !c.cfg.Enabled() {
		return domain.Delivery{}, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Body", body)

	var res resourceResponse
	if err := c.postForm(ctx, "Messages.json", form, &res); err != nil {
		return domain.Delivery{}, fmt.Errorf("send message: %w", err)
	}
	return domain.Delivery{ID: res.SID, Status: res.Status}, nil
}

// Ping проверяет учётные данные запросом карточки аккаунта.
func (c *Client) Ping(ctx context.Context) error {
	if !c.cfg.Enabled() {
		return ErrNotConfigured
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accountURL("")+".json", nil)
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	httpReq.Header.Set("User-Agent", version.UserAgent())
	return c.do(httpReq, nil)
}

func (c *Client) accountURL(resource string) string {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID))
	if resource != "" {
		u += "/" + resource
	}
	return u
}

func (c *Client) postForm(ctx context.Context, resource string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountURL(resource), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out any) error {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ domain.VoiceProvider = (*Client)(nil)
