package domain

import "time"

// ScriptType задаёт вариант IVR-сценария.
type ScriptType string

const (
	// ScriptShort — приветствие, сумма и вопрос да/нет.
	ScriptShort ScriptType = "short"
	// ScriptLong — дополнительно перечисляет товары и зачитывает адрес.
	ScriptLong ScriptType = "long"
)

// Valid проверяет тип сценария.
func (s ScriptType) Valid() bool {
	return s == ScriptShort || s == ScriptLong
}

// CallStatus описывает статус звонка по данным голосового провайдера.
type CallStatus string

const (
	CallStatusReserved   CallStatus = "reserved"
	CallStatusQueued     CallStatus = "queued"
	CallStatusFailed     CallStatus = "failed"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Retryable отмечает статусы, после которых запускается политика повторов.
func (s CallStatus) Retryable() bool {
	switch s {
	case CallStatusNoAnswer, CallStatusBusy, CallStatusFailed, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// CallIntent содержит результат классификации ответа клиента.
type CallIntent string

const (
	IntentConfirmed CallIntent = "CONFIRMED"
	IntentCancelled CallIntent = "CANCELLED"
	IntentUnclear   CallIntent = "UNCLEAR"
)

// CallLog описывает одну попытку звонка по заказу.
type CallLog struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	AttemptNumber  int        `json:"attempt_number"`
	CallSID        string     `json:"call_sid,omitempty"`
	CallStatus     CallStatus `json:"call_status"`
	ScriptType     ScriptType `json:"script_type"`
	ScriptLanguage string     `json:"script_language"`
	Digits         string     `json:"digits,omitempty"`
	SpeechResult   string     `json:"speech_result,omitempty"`
	Confidence     float64    `json:"confidence,omitempty"`
	Intent         CallIntent `json:"intent,omitempty"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CallResponse описывает ответ клиента, присланный провайдером.
type CallResponse struct {
	Digits       string
	SpeechResult string
	Confidence   float64
	Intent       CallIntent
	RespondedAt  time.Time
}
