package domain

import "time"

// TrackingHistoryEntry описывает событие перевозчика, применённое к заказу. Только добавляется.
type TrackingHistoryEntry struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"carrier"`
	Status         string    `json:"status"`
	SubStatus      string    `json:"sub_status,omitempty"`
	Description    string    `json:"description,omitempty"`
	Location       string    `json:"location,omitempty"`
	EventTime      time.Time `json:"event_time"`
	CreatedAt      time.Time `json:"created_at"`
}
