package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics содержит метрики оценки риска, подтверждения и доставки.
// Методы безопасно вызывать на nil-получателе.
type Metrics struct {
	// Оценка риска
	assessments        *prometheus.CounterVec
	assessmentDuration prometheus.Histogram

	// Подтверждение звонком
	callsPlaced    *prometheus.CounterVec
	callIntents    *prometheus.CounterVec
	retriesPlanned prometheus.Counter
	escalations    *prometheus.CounterVec

	// Доставка и уведомления
	shipmentTransitions *prometheus.CounterVec
	webhookItems        *prometheus.CounterVec
	notifications       *prometheus.CounterVec

	// Transactional outbox
	outboxPublishes *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	// Отложенные задачи
	taskRuns       *prometheus.CounterVec
	tasksPending   prometheus.Gauge
	taskMaxOverdue prometheus.Gauge
}

// New создаёт метрики в registry по умолчанию.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer создаёт метрики в переданном registry (удобно для тестов).
func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		assessments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_risk_assessments_total",
			Help: "Total number of risk assessments grouped by tier.",
		}, []string{"tier"})),
		assessmentDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codconfirm_risk_assessment_duration_seconds",
			Help:    "Duration of a risk assessment run in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		})),
		callsPlaced: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_calls_placed_total",
			Help: "Total number of confirmation call attempts grouped by result.",
		}, []string{"script", "result"})),
		callIntents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_call_intents_total",
			Help: "Total number of classified call responses grouped by intent.",
		}, []string{"intent"})),
		retriesPlanned: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codconfirm_call_retries_scheduled_total",
			Help: "Total number of scheduled confirmation call retries.",
		})),
		escalations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_escalations_total",
			Help: "Total number of orders forwarded to the call center grouped by reason.",
		}, []string{"reason"})),
		shipmentTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_shipment_transitions_total",
			Help: "Total number of applied shipment status transitions.",
		}, []string{"status"})),
		webhookItems: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_carrier_webhook_items_total",
			Help: "Total number of carrier webhook items grouped by result.",
		}, []string{"result"})),
		notifications: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_notifications_total",
			Help: "Total number of customer notifications grouped by channel and result.",
		}, []string{"channel", "result"})),
		outboxPublishes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		outboxPending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codconfirm_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		})),
		outboxOldestAge: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codconfirm_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
		taskRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codconfirm_scheduler_task_runs_total",
			Help: "Total number of scheduled task executions grouped by kind and result.",
		}, []string{"kind", "result"})),
		tasksPending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codconfirm_scheduler_pending_tasks",
			Help: "Current number of pending scheduled tasks.",
		})),
		taskMaxOverdue: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "codconfirm_scheduler_oldest_overdue_seconds",
			Help: "How long the oldest pending task is past its due time.",
		})),
	}
}

// register регистрирует коллектор или возвращает уже зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type: %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordAssessment учитывает завершённую оценку риска.
func (m *Metrics) RecordAssessment(tier string, duration time.Duration) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(tier).Inc()
	m.assessmentDuration.Observe(duration.Seconds())
}

// RecordCallPlaced учитывает попытку звонка (result: placed | failed).
func (m *Metrics) RecordCallPlaced(script, result string) {
	if m == nil {
		return
	}
	m.callsPlaced.WithLabelValues(script, result).Inc()
}

// RecordCallIntent учитывает результат классификации ответа.
func (m *Metrics) RecordCallIntent(intent string) {
	if m == nil {
		return
	}
	m.callIntents.WithLabelValues(intent).Inc()
}

// RecordRetryScheduled учитывает запланированный повтор звонка.
func (m *Metrics) RecordRetryScheduled() {
	if m == nil {
		return
	}
	m.retriesPlanned.Inc()
}

// RecordEscalation учитывает передачу заказа в колл-центр.
func (m *Metrics) RecordEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}

// RecordShipmentTransition учитывает применённый статус доставки.
func (m *Metrics) RecordShipmentTransition(status string) {
	if m == nil {
		return
	}
	m.shipmentTransitions.WithLabelValues(status).Inc()
}

// RecordWebhookItem учитывает элемент вебхука перевозчика.
func (m *Metrics) RecordWebhookItem(result string) {
	if m == nil {
		return
	}
	m.webhookItems.WithLabelValues(result).Inc()
}

// RecordNotification учитывает отправку уведомления клиенту.
func (m *Metrics) RecordNotification(channel, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// RecordOutboxPublish учитывает результат публикации события из outbox.
func (m *Metrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер backlog outbox и возраст старейшей записи.
func (m *Metrics) SetOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordTaskRun учитывает один запуск отложенной задачи.
func (m *Metrics) RecordTaskRun(kind, result string) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(kind, result).Inc()
}

// SetTaskBacklog обновляет число ожидающих задач и просрочку самой старой.
func (m *Metrics) SetTaskBacklog(pending int, overdue time.Duration) {
	if m == nil {
		return
	}
	m.tasksPending.Set(float64(pending))
	m.taskMaxOverdue.Set(max(overdue, 0).Seconds())
}
