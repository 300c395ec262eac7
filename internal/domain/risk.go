package domain

import "time"

// RiskTier описывает уровень риска, выведенный из итогового балла.
type RiskTier string

const (
	RiskTierBlocked RiskTier = "BLOCKED"
	RiskTierHigh    RiskTier = "HIGH"
	RiskTierMedium  RiskTier = "MEDIUM"
	RiskTierLow     RiskTier = "LOW"
)

// RiskAction описывает рекомендованное действие по уровню риска.
type RiskAction string

const (
	RiskActionAutoReject RiskAction = "auto_reject"
	RiskActionCallCenter RiskAction = "call_center"
	RiskActionLongCall   RiskAction = "long_call"
	RiskActionShortCall  RiskAction = "short_call"
)

// Action возвращает действие, закреплённое за уровнем риска.
func (t RiskTier) Action() RiskAction {
	switch t {
	case RiskTierBlocked:
		return RiskActionAutoReject
	case RiskTierHigh:
		return RiskActionCallCenter
	case RiskTierMedium:
		return RiskActionLongCall
	default:
		return RiskActionShortCall
	}
}

// ActionResult фиксирует итог обработки оценки (ревью оператора или исход звонка).
type ActionResult string

const (
	ActionResultApproved              ActionResult = "approved"
	ActionResultRejected              ActionResult = "rejected"
	ActionResultPrepayment            ActionResult = "prepayment"
	ActionResultConfirmedByCall       ActionResult = "confirmed_by_call"
	ActionResultCancelledByCustomer   ActionResult = "cancelled_by_customer"
	ActionResultForwardedToCallCenter ActionResult = "forwarded_to_call_center"
	ActionResultAutoRejected          ActionResult = "auto_rejected"
)

// ReviewResult проверяет, что результат допустим для ручного ревью.
func (r ActionResult) ReviewResult() bool {
	switch r {
	case ActionResultApproved, ActionResultRejected, ActionResultPrepayment:
		return true
	default:
		return false
	}
}

// RiskFactors раскладывает балл по именованным факторам.
type RiskFactors struct {
	Blocked    int `json:"blocked"`
	ItemCount  int `json:"item_count"`
	OrderValue int `json:"order_value"`
	Frequency  int `json:"frequency"`
	History    int `json:"history"`
	Address    int `json:"address"`
}

// Total возвращает сумму факторов без ограничения снизу.
func (f RiskFactors) Total() int {
	return f.Blocked + f.ItemCount + f.OrderValue + f.Frequency + f.History + f.Address
}

// Map возвращает факторы в виде словаря для API и логов.
func (f RiskFactors) Map() map[string]int {
	return map[string]int{
		"blocked":     f.Blocked,
		"item_count":  f.ItemCount,
		"order_value": f.OrderValue,
		"frequency":   f.Frequency,
		"history":     f.History,
		"address":     f.Address,
	}
}

// RiskAssessment описывает одну запись оценки риска (append-only).
type RiskAssessment struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id"`
	CustomerID      string       `json:"customer_id"`
	Score           int          `json:"score"`
	Tier            RiskTier     `json:"tier"`
	Action          RiskAction   `json:"action"`
	Factors         RiskFactors  `json:"factors"`
	IsBlocked       bool         `json:"is_blocked"`
	AddressVerified bool         `json:"address_verified"`
	HasHouseNumber  bool         `json:"has_house_number"`
	IsFirstOrder    bool         `json:"is_first_order"`
	ActionResult    ActionResult `json:"action_result,omitempty"`
	ReviewNotes     string       `json:"review_notes,omitempty"`
	ReviewedBy      string       `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Reviewed сообщает, что оценку уже рассмотрел оператор.
func (a RiskAssessment) Reviewed() bool {
	return a.ReviewedAt != nil
}

// AssessmentOutcome описывает изменение итога оценки.
// ReviewedAt == nil означает автоматический исход (звонок, эскалация).
type AssessmentOutcome struct {
	Result     ActionResult
	Notes      string
	ReviewedBy string
	ReviewedAt *time.Time
}
