package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

type trackingRepository struct {
	db *sql.DB
}

// NewTrackingRepository создаёт PostgreSQL-реализацию TrackingHistoryRepository.
func NewTrackingRepository(store *Store) domain.TrackingHistoryRepository {
	return &trackingRepository{db: store.DB()}
}

// Append добавляет событие перевозчика; повторы не схлопываются.
func (r *trackingRepository) Append(ctx context.Context, entry domain.TrackingHistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.EventTime.IsZero() {
		entry.EventTime = entry.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_history (
			id, order_id, tracking_number, carrier, status, sub_status,
			description, location, event_time, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		entry.ID, entry.OrderID, entry.TrackingNumber, entry.Carrier, entry.Status, entry.SubStatus,
		entry.Description, entry.Location, entry.EventTime, entry.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("insert tracking history: %w", err)
	}
	return nil
}

func (r *trackingRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.TrackingHistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, tracking_number, carrier, status, sub_status,
		       description, location, event_time, created_at
		FROM tracking_history
		WHERE order_id = $1
		ORDER BY event_time ASC, created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list tracking history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.TrackingHistoryEntry, 0)
	for rows.Next() {
		var e domain.TrackingHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.OrderID, &e.TrackingNumber, &e.Carrier, &e.Status, &e.SubStatus,
			&e.Description, &e.Location, &e.EventTime, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tracking history: %w", err)
		}
		e.EventTime = e.EventTime.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracking history: %w", err)
	}
	return entries, nil
}

var _ domain.TrackingHistoryRepository = (*trackingRepository)(nil)
