// Package risk считает балл риска заказа с оплатой при получении и фиксирует оценку.
package risk

import (
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/address"
	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// Веса факторов.
const (
	PointsBlocked        = 10
	PointsTwoItems       = 1
	PointsManyItems      = 2
	PointsHighValue      = 2
	PointsFrequent       = 2
	PointsDeliveredDisc  = -1
	PointsInvalidAddress = 3

	// HighValueMinor — порог суммы заказа (50.00 в минимальных единицах).
	HighValueMinor = 5000

	ThresholdBlocked = 10
	ThresholdHigh    = 4
	ThresholdMedium  = 2

	FrequencyWindow = 7 * 24 * time.Hour
	RecentWindow    = 12 * time.Hour
)

// Input содержит снимок данных для расчёта.
type Input struct {
	Order    domain.Order
	Customer domain.Customer
	// History — другие заказы того же клиента, без текущего.
	History []domain.Order
	Now     time.Time
}

// Result содержит балл, уровень и признаки оценки.
type Result struct {
	Score           int
	Tier            domain.RiskTier
	Factors         domain.RiskFactors
	IsBlocked       bool
	AddressVerified bool
	HasHouseNumber  bool
	IsFirstOrder    bool
}

// Score считает факторы независимо, суммирует их и ограничивает снизу нулём.
func Score(in Input) Result {
	var f domain.RiskFactors

	blocked := in.Customer.Blocked()
	if blocked {
		f.Blocked = PointsBlocked
	}

	switch items := in.Order.ItemCount(); {
	case items >= 3:
		f.ItemCount = PointsManyItems
	case items == 2:
		f.ItemCount = PointsTwoItems
	}

	if in.Order.AmountMinor > HighValueMinor {
		f.OrderValue = PointsHighValue
	}

	f.Frequency = frequencyPoints(in.History, in.Now)

	if deliveredBefore(in.History) {
		f.History = PointsDeliveredDisc
	}

	addr := address.Validate(in.Order.ShippingAddress)
	if !addr.PostalCodeOK {
		f.Address = PointsInvalidAddress
	}

	score := f.Total()
	if score < 0 {
		score = 0
	}

	return Result{
		Score:           score,
		Tier:            TierFor(score, blocked),
		Factors:         f,
		IsBlocked:       blocked,
		AddressVerified: addr.Verified(),
		HasHouseNumber:  addr.HasHouseNumber,
		IsFirstOrder:    len(in.History) == 0,
	}
}

// TierFor переводит балл в уровень; первое совпадение выигрывает.
func TierFor(score int, blocked bool) domain.RiskTier {
	switch {
	case blocked || score >= ThresholdBlocked:
		return domain.RiskTierBlocked
	case score >= ThresholdHigh:
		return domain.RiskTierHigh
	case score >= ThresholdMedium:
		return domain.RiskTierMedium
	default:
		return domain.RiskTierLow
	}
}

func frequencyPoints(history []domain.Order, now time.Time) int {
	recent := make([]domain.Order, 0, len(history))
	for _, o := range history {
		if age := now.Sub(o.CreatedAt); age >= 0 && age <= FrequencyWindow {
			recent = append(recent, o)
		}
	}
	switch {
	case len(recent) >= 2:
		return PointsFrequent
	case len(recent) == 1 && now.Sub(recent[0].CreatedAt) <= RecentWindow:
		return PointsFrequent
	default:
		return 0
	}
}

func deliveredBefore(history []domain.Order) bool {
	for _, o := range history {
		if o.OrderStatus == domain.OrderStatusDelivered || o.ShippingStatus == domain.ShippingStatusDelivered {
			return true
		}
	}
	return false
}
