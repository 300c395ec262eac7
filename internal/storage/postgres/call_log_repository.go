package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const callLogColumns = `
	id, order_id, attempt_number, call_sid, call_status, script_type, script_language,
	digits, speech_result, confidence, intent, responded_at, error, created_at, updated_at`

type callLogRepository struct {
	db *sql.DB
}

// NewCallLogRepository создаёт PostgreSQL-реализацию CallLogRepository.
func NewCallLogRepository(store *Store) domain.CallLogRepository {
	return &callLogRepository{db: store.DB()}
}

// Reserve вставляет попытку, только если она следующая по номеру. Параллельная
// вставка того же номера упирается в UNIQUE (order_id, attempt_number).
func (r *callLogRepository) Reserve(ctx context.Context, call domain.CallLog) (domain.CallLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CallStatus == "" {
		call.CallStatus = domain.CallStatusReserved
	}
	call.CreatedAt = now
	call.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, order_id, attempt_number, call_status, script_type, script_language, created_at, updated_at)
		SELECT $1::text, $2::text, $3::int, $4::text, $5::text, $6::text, $7::timestamptz, $7::timestamptz
		WHERE (SELECT COUNT(*) FROM call_logs WHERE order_id = $2::text) = $3::int - 1
	`, call.ID, call.OrderID, call.AttemptNumber, string(call.CallStatus), string(call.ScriptType), call.ScriptLanguage, now)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.CallLog{}, fmt.Errorf("%w: order %s attempt %d", domain.ErrCallAttemptConflict, call.OrderID, call.AttemptNumber)
		case isForeignKeyViolation(err):
			return domain.CallLog{}, domain.ErrOrderNotFound
		}
		return domain.CallLog{}, fmt.Errorf("reserve call attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.CallLog{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.CallLog{}, fmt.Errorf("%w: order %s attempt %d is not next", domain.ErrCallAttemptConflict, call.OrderID, call.AttemptNumber)
	}
	return call, nil
}

func (r *callLogRepository) Count(ctx context.Context, orderID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_logs WHERE order_id = $1`, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count call attempts: %w", err)
	}
	return count, nil
}

func (r *callLogRepository) MarkPlaced(ctx context.Context, id, callSID string) error {
	return r.exec(ctx, `
		UPDATE call_logs SET call_sid = $2, call_status = $3, updated_at = $4 WHERE id = $1
	`, id, callSID, string(domain.CallStatusQueued), time.Now().UTC())
}

func (r *callLogRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.exec(ctx, `
		UPDATE call_logs SET call_status = $2, error = $3, updated_at = $4 WHERE id = $1
	`, id, string(domain.CallStatusFailed), reason, time.Now().UTC())
}

func (r *callLogRepository) UpdateStatus(ctx context.Context, orderID, callSID string, status domain.CallStatus) (domain.CallLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.one(r.db.QueryRowContext(ctx, `
		UPDATE call_logs SET call_status = $3, updated_at = $4
		WHERE id = (
			SELECT id FROM call_logs
			WHERE order_id = $1 AND ($2 = '' OR call_sid = $2)
			ORDER BY attempt_number DESC
			LIMIT 1
		)
		RETURNING `+callLogColumns,
		orderID, callSID, string(status), time.Now().UTC(),
	))
}

func (r *callLogRepository) RecordResponse(ctx context.Context, orderID string, response domain.CallResponse) (domain.CallLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.one(r.db.QueryRowContext(ctx, `
		UPDATE call_logs
		SET digits = $2, speech_result = $3, confidence = $4, intent = $5, responded_at = $6, updated_at = $7
		WHERE id = (
			SELECT id FROM call_logs WHERE order_id = $1 ORDER BY attempt_number DESC LIMIT 1
		)
		RETURNING `+callLogColumns,
		orderID, response.Digits, response.SpeechResult, response.Confidence, string(response.Intent),
		response.RespondedAt, time.Now().UTC(),
	))
}

func (r *callLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.CallLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+callLogColumns+` FROM call_logs WHERE order_id = $1 ORDER BY attempt_number
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list call attempts: %w", err)
	}
	defer rows.Close()

	calls := make([]domain.CallLog, 0)
	for rows.Next() {
		call, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call attempts: %w", err)
	}
	return calls, nil
}

func (r *callLogRepository) Latest(ctx context.Context, orderID string) (domain.CallLog, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.one(r.db.QueryRowContext(ctx, `
		SELECT `+callLogColumns+` FROM call_logs WHERE order_id = $1 ORDER BY attempt_number DESC LIMIT 1
	`, orderID))
}

func (r *callLogRepository) one(row *sql.Row) (domain.CallLog, error) {
	call, err := scanCallLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallLog{}, domain.ErrCallLogNotFound
	}
	return call, err
}

func (r *callLogRepository) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update call attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCallLogNotFound
	}
	return nil
}

func scanCallLog(row rowScanner) (domain.CallLog, error) {
	var (
		call                   domain.CallLog
		status, script, intent string
		respondedAt            sql.NullTime
	)
	if err := row.Scan(
		&call.ID, &call.OrderID, &call.AttemptNumber, &call.CallSID, &status, &script, &call.ScriptLanguage,
		&call.Digits, &call.SpeechResult, &call.Confidence, &intent, &respondedAt, &call.Error,
		&call.CreatedAt, &call.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CallLog{}, err
		}
		return domain.CallLog{}, fmt.Errorf("scan call attempt: %w", err)
	}
	call.CallStatus = domain.CallStatus(status)
	call.ScriptType = domain.ScriptType(script)
	call.Intent = domain.CallIntent(intent)
	call.RespondedAt = nullTimePtr(respondedAt)
	call.CreatedAt = call.CreatedAt.UTC()
	call.UpdatedAt = call.UpdatedAt.UTC()
	return call, nil
}

var _ domain.CallLogRepository = (*callLogRepository)(nil)
