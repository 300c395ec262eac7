package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository в памяти процесса.
type orderRepositoryInMemory struct {
	mu         sync.RWMutex
	items      map[string]domain.Order
	byTracking map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		items:      make(map[string]domain.Order),
		byTracking: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	if order.OrderStatus == "" {
		order.OrderStatus = domain.OrderStatusPending
	}
	if order.ShippingStatus == "" {
		order.ShippingStatus = domain.ShippingStatusPending
	}
	if order.ConfirmationStatus == "" {
		order.ConfirmationStatus = domain.ConfirmationPending
	}

	r.items[order.ID] = cloneOrder(order)
	if tn := strings.TrimSpace(order.TrackingNumber); tn != "" {
		r.byTracking[tn] = order.ID
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// FindByTrackingNumber ищет заказ по трек-номеру.
func (r *orderRepositoryInMemory) FindByTrackingNumber(_ context.Context, trackingNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTracking[strings.TrimSpace(trackingNumber)]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TransitionConfirmation меняет только статус подтверждения.
func (r *orderRepositoryInMemory) TransitionConfirmation(ctx context.Context, id string, to domain.ConfirmationStatus, note string) (domain.ConfirmationStatus, error) {
	var prev domain.ConfirmationStatus
	err := r.mutate(ctx, id, func(order *domain.Order, now time.Time) error {
		prev = order.ConfirmationStatus
		if err := domain.CheckConfirmationTransition(prev, to); err != nil {
			return err
		}
		order.ConfirmationStatus = to
		appendNote(order, note, now)
		return nil
	})
	return prev, err
}

// UpdateStatus применяет узкое обновление статусов заказа и доставки.
func (r *orderRepositoryInMemory) UpdateStatus(ctx context.Context, id string, update domain.OrderStatusUpdate) (domain.Order, error) {
	var updated domain.Order
	err := r.mutate(ctx, id, func(order *domain.Order, now time.Time) error {
		if err := domain.CheckStatusTransition(*order, update); err != nil {
			return err
		}
		if update.OrderStatus != nil {
			order.OrderStatus = *update.OrderStatus
		}
		if update.ShippingStatus != nil {
			order.ShippingStatus = *update.ShippingStatus
		}
		if update.DeliveredAt != nil {
			t := *update.DeliveredAt
			order.DeliveredAt = &t
		}
		if update.ReturnedAt != nil {
			t := *update.ReturnedAt
			order.ReturnedAt = &t
		}
		if update.ReturnReason != "" {
			order.ReturnReason = update.ReturnReason
		}
		appendNote(order, update.Note, now)
		updated = cloneOrder(*order)
		return nil
	})
	return updated, err
}

// SetCourierIfEmpty заполняет перевозчика только при пустом значении.
func (r *orderRepositoryInMemory) SetCourierIfEmpty(ctx context.Context, id, courier string) error {
	return r.mutate(ctx, id, func(order *domain.Order, _ time.Time) error {
		if order.Courier == "" {
			order.Courier = courier
		}
		return nil
	})
}

// AppendNote добавляет запись аудита.
func (r *orderRepositoryInMemory) AppendNote(ctx context.Context, id, note string) error {
	return r.mutate(ctx, id, func(order *domain.Order, now time.Time) error {
		appendNote(order, note, now)
		return nil
	})
}

// applyRisk выставляет поля риска; вызывается репозиторием оценок внутри mutate.
func applyRisk(order *domain.Order, update domain.OrderRiskUpdate) {
	order.RiskScore = update.Score
	order.RiskLevel = update.Level
	order.RiskAction = update.Action
	order.CurrentAssessmentID = update.AssessmentID
}

// mutate выполняет fn над заказом под эксклюзивной блокировкой.
func (r *orderRepositoryInMemory) mutate(ctx context.Context, id string, fn func(order *domain.Order, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	now := time.Now().UTC()
	if err := fn(&order, now); err != nil {
		return err
	}
	order.UpdatedAt = now
	r.items[id] = order
	return nil
}

func appendNote(order *domain.Order, note string, now time.Time) {
	if strings.TrimSpace(note) == "" {
		return
	}
	notes := make([]domain.OrderNote, len(order.Notes), len(order.Notes)+1)
	copy(notes, order.Notes)
	order.Notes = append(notes, domain.OrderNote{Text: note, CreatedAt: now})
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Items = append([]domain.OrderItem(nil), order.Items...)
	clone.Notes = append([]domain.OrderNote(nil), order.Notes...)
	if order.DeliveredAt != nil {
		t := *order.DeliveredAt
		clone.DeliveredAt = &t
	}
	if order.ReturnedAt != nil {
		t := *order.ReturnedAt
		clone.ReturnedAt = &t
	}
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)

// customerRepositoryInMemory реализует CustomerRepository в памяти процесса.
type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository создаёт in-memory репозиторий покупателей.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{items: make(map[string]domain.Customer)}
}

func (r *customerRepositoryInMemory) Create(_ context.Context, customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}
	r.items[customer.ID] = customer
	return nil
}

func (r *customerRepositoryInMemory) Get(_ context.Context, id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
