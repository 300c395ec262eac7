package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const assessmentColumns = `
	id, order_id, customer_id, score, tier, action, factors,
	is_blocked, address_verified, has_house_number, is_first_order,
	action_result, review_notes, reviewed_by, reviewed_at, created_at`

type assessmentRepository struct {
	db *sql.DB
}

// NewAssessmentRepository создаёт PostgreSQL-реализацию AssessmentRepository.
func NewAssessmentRepository(store *Store) domain.AssessmentRepository {
	return &assessmentRepository{db: store.DB()}
}

// Record вставляет оценку и в той же транзакции переключает ссылку заказа.
func (r *assessmentRepository) Record(ctx context.Context, a domain.RiskAssessment) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET risk_score = $2, risk_level = $3, risk_action = $4, current_assessment_id = $5, updated_at = $6
		WHERE id = $1
	`, a.OrderID, a.Score, string(a.Tier), string(a.Action), a.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order risk: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrOrderNotFound
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO risk_assessments (`+assessmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		a.ID, a.OrderID, a.CustomerID, a.Score, string(a.Tier), string(a.Action), factors,
		a.IsBlocked, a.AddressVerified, a.HasHouseNumber, a.IsFirstOrder,
		string(a.ActionResult), a.ReviewNotes, a.ReviewedBy, a.ReviewedAt, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert risk assessment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit risk assessment: %w", err)
	}
	return nil
}

func (r *assessmentRepository) Get(ctx context.Context, id string) (domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a, err := scanAssessment(r.db.QueryRowContext(ctx, `
		SELECT `+assessmentColumns+` FROM risk_assessments WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	return a, err
}

func (r *assessmentRepository) Current(ctx context.Context, orderID string) (domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var current string
	if err := r.db.QueryRowContext(ctx, `
		SELECT current_assessment_id FROM orders WHERE id = $1
	`, orderID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RiskAssessment{}, domain.ErrOrderNotFound
		}
		return domain.RiskAssessment{}, fmt.Errorf("select current assessment: %w", err)
	}
	if current == "" {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	return r.Get(ctx, current)
}

// SetOutcome перезаписывает итог; заметки дописываются через перевод строки.
func (r *assessmentRepository) SetOutcome(ctx context.Context, id string, outcome domain.AssessmentOutcome) (domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a, err := scanAssessment(r.db.QueryRowContext(ctx, `
		UPDATE risk_assessments
		SET action_result = $2,
		    review_notes = CASE
		        WHEN btrim($3) = '' THEN review_notes
		        WHEN review_notes = '' THEN btrim($3)
		        ELSE review_notes || E'\n' || btrim($3)
		    END,
		    reviewed_by = CASE WHEN $4::timestamptz IS NULL THEN reviewed_by ELSE $5 END,
		    reviewed_at = COALESCE($4::timestamptz, reviewed_at)
		WHERE id = $1
		RETURNING `+assessmentColumns,
		id, string(outcome.Result), outcome.Notes, outcome.ReviewedAt, outcome.ReviewedBy,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RiskAssessment{}, domain.ErrAssessmentNotFound
	}
	return a, err
}

func (r *assessmentRepository) ListPendingReview(ctx context.Context, tier domain.RiskTier) ([]domain.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE tier = $1 AND reviewed_at IS NULL
		ORDER BY created_at DESC, id DESC
	`, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list pending assessments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RiskAssessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}
	return result, nil
}

func scanAssessment(row rowScanner) (domain.RiskAssessment, error) {
	var (
		a                    domain.RiskAssessment
		tier, action, result string
		factors              []byte
		reviewedAt           sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.OrderID, &a.CustomerID, &a.Score, &tier, &action, &factors,
		&a.IsBlocked, &a.AddressVerified, &a.HasHouseNumber, &a.IsFirstOrder,
		&result, &a.ReviewNotes, &a.ReviewedBy, &reviewedAt, &a.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RiskAssessment{}, err
		}
		return domain.RiskAssessment{}, fmt.Errorf("scan risk assessment: %w", err)
	}
	if err := json.Unmarshal(factors, &a.Factors); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("decode risk factors: %w", err)
	}
	a.Tier = domain.RiskTier(tier)
	a.Action = domain.RiskAction(action)
	a.ActionResult = domain.ActionResult(result)
	a.ReviewedAt = nullTimePtr(reviewedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

var _ domain.AssessmentRepository = (*assessmentRepository)(nil)
