package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestEvaluate_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]Checker
		want     Status
	}{
		{name: "no checkers", want: StatusHealthy},
		{
			name: "all healthy",
			checkers: map[string]Checker{
				"postgres": NewFuncChecker("postgres", ok),
				"voice":    NewOptionalChecker("voice", ok),
			},
			want: StatusHealthy,
		},
		{
			name: "optional failure degrades",
			checkers: map[string]Checker{
				"postgres": NewFuncChecker("postgres", ok),
				"voice":    NewOptionalChecker("voice", failing("401")),
			},
			want: StatusDegraded,
		},
		{
			name: "critical failure beats degraded",
			checkers: map[string]Checker{
				"postgres": NewFuncChecker("postgres", failing("connection refused")),
				"voice":    NewOptionalChecker("voice", failing("401")),
			},
			want: StatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler("v1.2.3")
			for name, c := range tt.checkers {
				h.RegisterChecker(name, c)
			}
			resp := h.Evaluate(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
			assert.Equal(t, "v1.2.3", resp.Version)
		})
	}
}

func TestEvaluate_DeadlineReachesCheckers(t *testing.T) {
	h := NewHandler("dev")
	h.timeout = 30 * time.Millisecond
	h.RegisterChecker("slow", NewFuncChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := h.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["slow"].Message)
}

func TestServeHTTP(t *testing.T) {
	h := NewHandler("dev")
	h.RegisterChecker("postgres", NewFuncChecker("postgres", failing("connection refused")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "postgres", resp.Checks["postgres"].Name)
	assert.Equal(t, "connection refused", resp.Checks["postgres"].Message)
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler("dev")
	h.RegisterChecker("voice", NewOptionalChecker("voice", failing("timeout")))

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded stays ready")
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())

	h.RegisterChecker("postgres", NewFuncChecker("postgres", failing("down")))
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestNames(t *testing.T) {
	h := NewHandler("dev")
	h.RegisterChecker("voice", NewOptionalChecker("voice", ok))
	h.RegisterChecker("postgres", NewFuncChecker("postgres", ok))
	h.RegisterChecker("voice", NewOptionalChecker("voice", ok))
	assert.Equal(t, []string{"postgres", "voice"}, h.Names())
}

type recordingSetter struct {
	mu       sync.Mutex
	statuses []healthpb.HealthCheckResponse_ServingStatus
}

func (r *recordingSetter) SetServingStatus(_ string, s healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *recordingSetter) snapshot() []healthpb.HealthCheckResponse_ServingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]healthpb.HealthCheckResponse_ServingStatus(nil), r.statuses...)
}

func TestSyncGRPC_FollowsChecks(t *testing.T) {
	var (
		mu   sync.Mutex
		down bool
	)
	h := NewHandler("dev")
	h.RegisterChecker("postgres", NewFuncChecker("postgres", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return errors.New("down")
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	setter := &recordingSetter{}
	done := make(chan struct{})
	go func() {
		h.SyncGRPC(ctx, setter, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s := setter.snapshot()
		return len(s) > 0 && s[0] == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	down = true
	mu.Unlock()
	require.Eventually(t, func() bool {
		s := setter.snapshot()
		return s[len(s)-1] == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SyncGRPC kept running after cancel")
	}
}
