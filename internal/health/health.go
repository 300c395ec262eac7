// Package health собирает проверки зависимостей сервиса и отдаёт их
// как HTTP-пробы (/healthz, /readyz, /livez) и как статус gRPC health.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultCheckTimeout = 2 * time.Second

// Status описывает состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check содержит результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response описывает тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость: базу, брокер, голосового провайдера.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler хранит зарегистрированные проверки.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	timeout  time.Duration
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		timeout:  defaultCheckTimeout,
		started:  time.Now(),
	}
}

// RegisterChecker добавляет проверку; повторное имя заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate запускает проверки параллельно с общим дедлайном.
// Итоговый статус равен худшему из статусов проверок.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	snapshot := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		snapshot[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		name  string
		check Check
	}
	results := make(chan result, len(snapshot))
	for name, c := range snapshot {
		go func() { results <- result{name: name, check: c.Check(ctx)} }()
	}

	resp := Response{
		Status:        StatusHealthy,
		Checks:        make(map[string]Check, len(snapshot)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for range snapshot {
		r := <-results
		resp.Checks[r.name] = r.check
		if r.check.Status.severity() > resp.Status.severity() {
			resp.Status = r.check.Status
		}
	}
	resp.Timestamp = time.Now()
	return resp
}

// ServeHTTP отдаёт полный отчёт; unhealthy отвечает 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Evaluate(r.Context())
	writeJSON(w, httpStatus(resp.Status), resp)
}

// ReadinessHandler отвечает только итоговым статусом; degraded остаётся ready.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context()).Status
	writeJSON(w, httpStatus(status), map[string]Status{"status": status})
}

// LivenessHandler не трогает зависимости.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// ServingStatusSetter покрывает часть grpc health.Server, которую обновляет Handler.
type ServingStatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// SyncGRPC раз в interval переносит итог Evaluate в статус gRPC health
// до отмены ctx. Degraded считается SERVING.
func (h *Handler) SyncGRPC(ctx context.Context, srv ServingStatusSetter, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		if h.Evaluate(ctx).Status == StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if ctx.Err() != nil {
			return
		}
		srv.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FuncChecker превращает функцию в Checker.
type FuncChecker struct {
	name     string
	optional bool
	fn       func(ctx context.Context) error
}

// NewFuncChecker создаёт критичную проверку: ошибка делает сервис unhealthy.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

// NewOptionalChecker создаёт проверку, ошибка которой только понижает статус до degraded.
func NewOptionalChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, optional: true, fn: fn}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	started := time.Now()
	err := c.fn(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
	if err == nil {
		return check
	}
	check.Message = err.Error()
	check.Status = StatusUnhealthy
	if c.optional {
		check.Status = StatusDegraded
	}
	return check
}
