package domain

import "time"

// AggregateOrder задаёт тип агрегата для событий outbox.
const AggregateOrder = "order"

// Типы доменных событий.
const (
	EventRiskAssessed          = "RiskAssessed"
	EventConfirmationResolved  = "ConfirmationResolved"
	EventConfirmationEscalated = "ConfirmationEscalated"
	EventShipmentStatusChanged = "ShipmentStatusChanged"
)

// RiskAssessedEvent публикуется после каждой оценки.
type RiskAssessedEvent struct {
	OrderID      string         `json:"order_id"`
	AssessmentID string         `json:"assessment_id"`
	Score        int            `json:"score"`
	Tier         RiskTier       `json:"tier"`
	Action       RiskAction     `json:"action"`
	Factors      map[string]int `json:"factors"`
	AssessedAt   time.Time      `json:"assessed_at"`
}

// ConfirmationEvent публикуется при подтверждении, отказе или эскалации.
type ConfirmationEvent struct {
	OrderID    string             `json:"order_id"`
	Status     ConfirmationStatus `json:"status"`
	Result     ActionResult       `json:"result,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Attempts   int                `json:"attempts"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// ShipmentEvent публикуется при смене статуса доставки.
type ShipmentEvent struct {
	OrderID        string         `json:"order_id"`
	TrackingNumber string         `json:"tracking_number"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	OrderStatus    OrderStatus    `json:"order_status"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
