package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
// Все изменения статусов обновляют только конкретные поля.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// FindByTrackingNumber ищет заказ по трек-номеру перевозчика.
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (Order, error)
	// ListByCustomer возвращает заказы клиента от новых к старым (limit <= 0: без ограничения).
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// TransitionConfirmation меняет статус подтверждения и возвращает предыдущий.
	TransitionConfirmation(ctx context.Context, id string, to ConfirmationStatus, note string) (ConfirmationStatus, error)
	// UpdateStatus применяет изменения статусов заказа и доставки по таблицам переходов.
	UpdateStatus(ctx context.Context, id string, update OrderStatusUpdate) (Order, error)
	// SetCourierIfEmpty заполняет перевозчика, если он ещё не указан.
	SetCourierIfEmpty(ctx context.Context, id, courier string) error
	// AppendNote добавляет запись аудита к заказу.
	AppendNote(ctx context.Context, id, note string) error
}

// CustomerRepository хранит покупателей.
type CustomerRepository interface {
	Create(ctx context.Context, customer Customer) error
	Get(ctx context.Context, id string) (Customer, error)
}

// AssessmentRepository хранит оценки риска.
type AssessmentRepository interface {
	// Record сохраняет оценку и атомарно переключает на неё ссылку текущей оценки заказа.
	Record(ctx context.Context, assessment RiskAssessment) error
	Get(ctx context.Context, id string) (RiskAssessment, error)
	// Current возвращает оценку, на которую ссылается заказ.
	Current(ctx context.Context, orderID string) (RiskAssessment, error)
	// SetOutcome фиксирует итог ревью или звонка.
	SetOutcome(ctx context.Context, id string, outcome AssessmentOutcome) (RiskAssessment, error)
	// ListPendingReview возвращает оценки уровня tier без решения, от новых к старым.
	ListPendingReview(ctx context.Context, tier RiskTier) ([]RiskAssessment, error)
}

// CallLogRepository хранит попытки звонков.
type CallLogRepository interface {
	// Reserve добавляет попытку; AttemptNumber обязан быть равен Count+1, иначе ErrCallAttemptConflict.
	Reserve(ctx context.Context, call CallLog) (CallLog, error)
	// Count возвращает число попыток по заказу, источник истины для политики повторов.
	Count(ctx context.Context, orderID string) (int, error)
	MarkPlaced(ctx context.Context, id, callSID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// UpdateStatus обновляет статус попытки по SID звонка (или последней попытки, если SID пуст).
	UpdateStatus(ctx context.Context, orderID, callSID string, status CallStatus) (CallLog, error)
	// RecordResponse сохраняет ответ клиента в последнюю попытку.
	RecordResponse(ctx context.Context, orderID string, response CallResponse) (CallLog, error)
	ListByOrder(ctx context.Context, orderID string) ([]CallLog, error)
	Latest(ctx context.Context, orderID string) (CallLog, error)
}

// TrackingHistoryRepository хранит журнал событий перевозчика.
type TrackingHistoryRepository interface {
	Append(ctx context.Context, entry TrackingHistoryEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]TrackingHistoryEntry, error)
}

// TaskRepository хранит отложенные задачи.
type TaskRepository interface {
	// Schedule сохраняет задачу; при повторе DedupKey возвращает ErrTaskDuplicate.
	Schedule(ctx context.Context, task ScheduledTask) (ScheduledTask, error)
	// ClaimDue захватывает до limit задач с DueAt <= now и переводит их в running,
	// отмечая время захвата как now. Задачи, которые висят в running дольше lease
	// (воркер упал посреди обработки), захватываются повторно; lease <= 0 это отключает.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]ScheduledTask, error)
	// Release возвращает захваченную, но не выполненную задачу в pending без
	// списания попытки. Для задачи не в running ничего не делает.
	Release(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string) error
	// RetryLater возвращает задачу в pending с новым сроком.
	RetryLater(ctx context.Context, id, lastError string, dueAt time.Time) error
	MarkFailed(ctx context.Context, id, lastError string) error
	Stats(ctx context.Context) (TaskStats, error)
	// DeleteFinished удаляет done/failed задачи, обновлённые до before.
	DeleteFinished(ctx context.Context, before time.Time, limit int) (int, error)
	ListByOrder(ctx context.Context, orderID string) ([]ScheduledTask, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
