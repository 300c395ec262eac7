package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа с оплатой при получении.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает отгрузки.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusShipped — заказ передан перевозчику.
	OrderStatusShipped OrderStatus = "Shipped"
	// OrderStatusInTransit — посылка в пути.
	OrderStatusInTransit OrderStatus = "In Transit"
	// OrderStatusDelivered — посылка вручена, деньги получены.
	OrderStatusDelivered OrderStatus = "Delivered"
	// OrderStatusReturned — посылка вернулась отправителю.
	OrderStatusReturned OrderStatus = "Returned"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// OrderStatusException — внутренний флаг проблемы с доставкой.
	OrderStatusException OrderStatus = "Exception"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPending, OrderStatusShipped, OrderStatusInTransit, OrderStatusDelivered, OrderStatusReturned, OrderStatusCancelled, OrderStatusException},
	OrderStatusShipped:   {OrderStatusShipped, OrderStatusInTransit, OrderStatusDelivered, OrderStatusReturned, OrderStatusCancelled, OrderStatusException},
	OrderStatusInTransit: {OrderStatusInTransit, OrderStatusDelivered, OrderStatusReturned, OrderStatusException},
	OrderStatusException: {OrderStatusException, OrderStatusInTransit, OrderStatusDelivered, OrderStatusReturned, OrderStatusCancelled},
	OrderStatusDelivered: {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusReturned:  {OrderStatusReturned},
	OrderStatusCancelled: {OrderStatusCancelled},
}

// Valid сообщает, входит ли статус в закрытый набор.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo проверяет переход по таблице переходов заказа.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return contains(orderTransitions[s], next)
}

// ShippingStatus описывает состояние доставки по данным перевозчика.
type ShippingStatus string

const (
	ShippingStatusPending     ShippingStatus = "Pending"
	ShippingStatusInTransit   ShippingStatus = "In Transit"
	ShippingStatusDelivered   ShippingStatus = "Delivered"
	ShippingStatusReturned    ShippingStatus = "Returned"
	ShippingStatusUndelivered ShippingStatus = "Undelivered"
	ShippingStatusException   ShippingStatus = "Exception"
)

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingStatusPending:     {ShippingStatusPending, ShippingStatusInTransit, ShippingStatusDelivered, ShippingStatusReturned, ShippingStatusUndelivered, ShippingStatusException},
	ShippingStatusInTransit:   {ShippingStatusInTransit, ShippingStatusDelivered, ShippingStatusReturned, ShippingStatusUndelivered, ShippingStatusException},
	ShippingStatusUndelivered: {ShippingStatusInTransit, ShippingStatusDelivered, ShippingStatusReturned, ShippingStatusUndelivered, ShippingStatusException},
	ShippingStatusException:   {ShippingStatusInTransit, ShippingStatusDelivered, ShippingStatusReturned, ShippingStatusUndelivered, ShippingStatusException},
	ShippingStatusDelivered:   {ShippingStatusDelivered, ShippingStatusReturned},
	ShippingStatusReturned:    {ShippingStatusReturned},
}

// Valid сообщает, входит ли статус доставки в закрытый набор.
func (s ShippingStatus) Valid() bool {
	_, ok := shippingTransitions[s]
	return ok
}

// CanTransitionTo проверяет переход по таблице переходов доставки.
func (s ShippingStatus) CanTransitionTo(next ShippingStatus) bool {
	return contains(shippingTransitions[s], next)
}

// Final сообщает, что доставка завершена (вручено или возвращено).
func (s ShippingStatus) Final() bool {
	return s == ShippingStatusDelivered || s == ShippingStatusReturned
}

// ConfirmationStatus описывает статус подтверждения заказа клиентом.
type ConfirmationStatus string

const (
	ConfirmationPending    ConfirmationStatus = "Pending"
	ConfirmationConfirmed  ConfirmationStatus = "Confirmed"
	ConfirmationDeclined   ConfirmationStatus = "Declined"
	ConfirmationCallCenter ConfirmationStatus = "Call Center"
)

var confirmationTransitions = map[ConfirmationStatus][]ConfirmationStatus{
	ConfirmationPending:    {ConfirmationConfirmed, ConfirmationDeclined, ConfirmationCallCenter},
	ConfirmationCallCenter: {ConfirmationConfirmed, ConfirmationDeclined, ConfirmationCallCenter},
	ConfirmationConfirmed:  nil,
	ConfirmationDeclined:   nil,
}

// Valid сообщает, входит ли статус подтверждения в закрытый набор.
func (s ConfirmationStatus) Valid() bool {
	_, ok := confirmationTransitions[s]
	return ok
}

// Terminal сообщает, что статус больше не меняется (Confirmed и Declined).
func (s ConfirmationStatus) Terminal() bool {
	return s == ConfirmationConfirmed || s == ConfirmationDeclined
}

// CanTransitionTo проверяет переход по таблице переходов подтверждения.
func (s ConfirmationStatus) CanTransitionTo(next ConfirmationStatus) bool {
	return contains(confirmationTransitions[s], next)
}

// CheckConfirmationTransition возвращает типизированную ошибку для недопустимого перехода.
func CheckConfirmationTransition(from, to ConfirmationStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrConfirmationTerminal, from)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: confirmation %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckStatusTransition проверяет поля OrderStatusUpdate относительно текущего заказа.
func CheckStatusTransition(order Order, update OrderStatusUpdate) error {
	if update.OrderStatus != nil && !order.OrderStatus.CanTransitionTo(*update.OrderStatus) {
		return fmt.Errorf("%w: order %q -> %q", ErrInvalidTransition, order.OrderStatus, *update.OrderStatus)
	}
	if update.ShippingStatus != nil && !order.ShippingStatus.CanTransitionTo(*update.ShippingStatus) {
		return fmt.Errorf("%w: shipping %q -> %q", ErrInvalidTransition, order.ShippingStatus, *update.ShippingStatus)
	}
	return nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Address описывает адрес доставки заказа.
type Address struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Format возвращает адрес одной строкой для оператора колл-центра.
func (a Address) Format() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, strings.TrimSpace(a.PostalCode + " " + a.City), a.Province, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku,omitempty"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// OrderNote фиксирует автоматическое изменение заказа для аудита.
type OrderNote struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Order агрегирует состояние заказа, общее для риска, подтверждения и доставки.
type Order struct {
	ID                  string             `json:"id"`
	Number              string             `json:"number"`
	CustomerID          string             `json:"customer_id"`
	Items               []OrderItem        `json:"items"`
	AmountMinor         int64              `json:"amount_minor"`
	Currency            string             `json:"currency"`
	ShippingAddress     Address            `json:"shipping_address"`
	OrderStatus         OrderStatus        `json:"order_status"`
	ShippingStatus      ShippingStatus     `json:"shipping_status"`
	ConfirmationStatus  ConfirmationStatus `json:"confirmation_status"`
	RiskScore           int                `json:"risk_score"`
	RiskLevel           RiskTier           `json:"risk_level,omitempty"`
	RiskAction          RiskAction         `json:"risk_action,omitempty"`
	CurrentAssessmentID string             `json:"current_assessment_id,omitempty"`
	TrackingNumber      string             `json:"tracking_number,omitempty"`
	Courier             string             `json:"courier,omitempty"`
	DeliveredAt         *time.Time         `json:"delivered_at,omitempty"`
	ReturnedAt          *time.Time         `json:"returned_at,omitempty"`
	ReturnReason        string             `json:"return_reason,omitempty"`
	Notes               []OrderNote        `json:"notes,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ItemCount возвращает суммарное количество единиц товара.
func (o Order) ItemCount() int {
	total := 0
	for _, item := range o.Items {
		total += int(item.Qty)
	}
	return total
}

// Validate проверяет инварианты, без которых оценка риска невозможна.
func (o Order) Validate() error {
	if o.CustomerID == "" {
		return ErrCustomerRequired
	}
	if len(o.Items) == 0 {
		return ErrItemsRequired
	}
	if o.AmountMinor < 0 {
		return ErrAmountNegative
	}
	for i, item := range o.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("item[%d]: %w", i, ErrProductIDInvalid)
		}
		if item.Qty <= 0 {
			return fmt.Errorf("item[%d]: %w", i, ErrItemQtyInvalid)
		}
	}
	return nil
}

// OrderStatusUpdate описывает узкое обновление полей доставки без перезаписи всего заказа.
type OrderStatusUpdate struct {
	OrderStatus    *OrderStatus
	ShippingStatus *ShippingStatus
	DeliveredAt    *time.Time
	ReturnedAt     *time.Time
	ReturnReason   string
	Note           string
}

// OrderRiskUpdate содержит поля заказа, которые выставляет оценка риска.
type OrderRiskUpdate struct {
	Score        int
	Level        RiskTier
	Action       RiskAction
	AssessmentID string
}

// Customer представляет покупателя.
type Customer struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Phone     string         `json:"phone"`
	Email     string         `json:"email,omitempty"`
	Status    CustomerStatus `json:"status"`
	IsBlocked bool           `json:"is_blocked"`
	CreatedAt time.Time      `json:"created_at"`
}

// CustomerStatus описывает статус учётной записи покупателя.
type CustomerStatus string

const (
	CustomerActive  CustomerStatus = "Active"
	CustomerBlocked CustomerStatus = "Blocked"
)

// Blocked учитывает и статус, и явный флаг блокировки.
func (c Customer) Blocked() bool {
	return c.IsBlocked || c.Status == CustomerBlocked
}
