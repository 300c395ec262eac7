package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	scenarioEndpoint = "scenario"
	transportFailure = 0

	callsMetric   = "loadtest_calls_total"
	latencyMetric = "loadtest_latency_ms"
)

type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time                 `json:"started_at"`
	DurationSeconds float64                   `json:"duration_seconds"`
	RPS             float64                   `json:"rps"`
	Scenarios       endpointReport            `json:"scenarios"`
	Endpoints       map[string]endpointReport `json:"endpoints"`
}

// collector копит вызовы в собственном реестре Prometheus.
type collector struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.SummaryVec
}

func newCollector() *collector {
	c := &collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: callsMetric,
			Help: "HTTP calls by endpoint and response code.",
		}, []string{"endpoint", "code"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       latencyMetric,
			Help:       "Call latency in milliseconds.",
			Objectives: map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}, []string{"endpoint"}),
	}
	c.registry.MustRegister(c.calls, c.latency)
	return c
}

func (c *collector) record(endpoint string, latency time.Duration, status int) {
	c.calls.WithLabelValues(endpoint, statusLabel(status)).Inc()
	c.latency.WithLabelValues(endpoint).Observe(float64(latency.Microseconds()) / 1000)
}

func (c *collector) endpoints() (map[string]endpointReport, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather stats: %w", err)
	}

	out := make(map[string]endpointReport)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := labelValue(m, "endpoint")
			r := out[name]
			if r.Codes == nil {
				r.Codes = make(map[string]int64)
			}
			switch mf.GetName() {
			case callsMetric:
				code, n := labelValue(m, "code"), int64(m.GetCounter().GetValue())
				r.Codes[code] += n
				r.Calls += n
				if codeSucceeded(code) {
					r.Success += n
				} else {
					r.Failed += n
				}
			case latencyMetric:
				r.LatencyMs = summarize(m.GetSummary())
			}
			out[name] = r
		}
	}
	for name, r := range out {
		r.ErrorRate = ratio(r.Failed, r.Calls)
		out[name] = r
	}
	return out, nil
}

func (c *collector) report(started time.Time, elapsed time.Duration) (report, error) {
	endpoints, err := c.endpoints()
	if err != nil {
		return report{}, err
	}
	r := report{
		StartedAt:       started.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Scenarios:       endpoints[scenarioEndpoint],
		Endpoints:       endpoints,
	}
	delete(r.Endpoints, scenarioEndpoint)
	if elapsed > 0 {
		r.RPS = float64(r.Scenarios.Calls) / elapsed.Seconds()
	}
	return r, nil
}

func summarize(s *dto.Summary) latencySummary {
	if s.GetSampleCount() == 0 {
		return latencySummary{}
	}
	out := latencySummary{Avg: s.GetSampleSum() / float64(s.GetSampleCount())}
	for _, q := range s.GetQuantile() {
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = q.GetValue()
		case 0.95:
			out.P95 = q.GetValue()
		case 0.99:
			out.P99 = q.GetValue()
		}
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func statusLabel(status int) string {
	if status == transportFailure {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }

func codeSucceeded(label string) bool {
	status, err := strconv.Atoi(label)
	return err == nil && isSuccess(status)
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
