package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// assessmentRepositoryInMemory хранит оценки риска; ссылку на текущую оценку
// переключает вместе с заказом под блокировкой репозитория заказов.
type assessmentRepositoryInMemory struct {
	orders *orderRepositoryInMemory

	mu    sync.RWMutex
	items map[string]domain.RiskAssessment
}

// NewAssessmentRepository создаёт in-memory репозиторий оценок поверх репозитория заказов.
func NewAssessmentRepository(orders *orderRepositoryInMemory) domain.AssessmentRepository {
	return &assessmentRepositoryInMemory{
		orders: orders,
		items:  make(map[string]domain.RiskAssessment),
	}
}

// Record сохраняет оценку и атомарно обновляет поля риска заказа.
// Порядок блокировок: заказы, затем оценки.
func (r *assessmentRepositoryInMemory) Record(ctx context.Context, assessment domain.RiskAssessment) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.CreatedAt.IsZero() {
		assessment.CreatedAt = time.Now().UTC()
	}

	return r.orders.mutate(ctx, assessment.OrderID, func(order *domain.Order, _ time.Time) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.items[assessment.ID] = cloneAssessment(assessment)
		applyRisk(order, domain.OrderRiskUpdate{
			Score:        assessment.Score,
			Level:        assessment.Tier,
			Action:       assessment.Action,
			AssessmentID: assessment.ID,
		})
		return nil
	})
}

func (r *assessmentRepositoryInMemory) Get(_ context.Context, id string) (domain.RiskAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assessment, ok := r.items[id]
	if !ok {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	return cloneAssessment(assessment), nil
}

// Current возвращает оценку по ссылке из заказа.
func (r *assessmentRepositoryInMemory) Current(ctx context.Context, orderID string) (domain.RiskAssessment, error) {
	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if order.CurrentAssessmentID == "" {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	return r.Get(ctx, order.CurrentAssessmentID)
}

// SetOutcome фиксирует итог; заметки накапливаются.
func (r *assessmentRepositoryInMemory) SetOutcome(_ context.Context, id string, outcome domain.AssessmentOutcome) (domain.RiskAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assessment, ok := r.items[id]
	if !ok {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}

	assessment.ActionResult = outcome.Result
	if notes := strings.TrimSpace(outcome.Notes); notes != "" {
		if assessment.ReviewNotes != "" {
			assessment.ReviewNotes += "\n"
		}
		assessment.ReviewNotes += notes
	}
	if outcome.ReviewedAt != nil {
		at := *outcome.ReviewedAt
		assessment.ReviewedAt = &at
		assessment.ReviewedBy = outcome.ReviewedBy
	}

	r.items[id] = assessment
	return cloneAssessment(assessment), nil
}

// ListPendingReview возвращает нерассмотренные оценки уровня tier, от новых к старым.
func (r *assessmentRepositoryInMemory) ListPendingReview(_ context.Context, tier domain.RiskTier) ([]domain.RiskAssessment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.RiskAssessment, 0)
	for _, assessment := range r.items {
		if assessment.Tier != tier || assessment.Reviewed() {
			continue
		}
		result = append(result, cloneAssessment(assessment))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func cloneAssessment(a domain.RiskAssessment) domain.RiskAssessment {
	if a.ReviewedAt != nil {
		at := *a.ReviewedAt
		a.ReviewedAt = &at
	}
	return a
}

var _ domain.AssessmentRepository = (*assessmentRepositoryInMemory)(nil)
