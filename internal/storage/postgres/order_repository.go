package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const orderColumns = `
	id, number, customer_id, amount_minor, currency, shipping_address,
	order_status, shipping_status, confirmation_status,
	risk_score, risk_level, risk_action, current_assessment_id,
	tracking_number, courier, delivered_at, returned_at, return_reason,
	created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

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
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		order.ID, order.Number, order.CustomerID, order.AmountMinor, order.Currency, address,
		string(order.OrderStatus), string(order.ShippingStatus), string(order.ConfirmationStatus),
		order.RiskScore, string(order.RiskLevel), string(order.RiskAction), order.CurrentAssessmentID,
		strings.TrimSpace(order.TrackingNumber), order.Courier, order.DeliveredAt, order.ReturnedAt, order.ReturnReason,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, sku, name, qty, price_minor)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, i, item.ProductID, item.SKU, item.Name, item.Qty, item.PriceMinor,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, note := range order.Notes {
		if err = insertNote(ctx, tx, order.ID, note.Text, note.CreatedAt); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *orderRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.get(ctx, `WHERE tracking_number = $1`, trackingNumber)
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadChildren(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) TransitionConfirmation(ctx context.Context, id string, to domain.ConfirmationStatus, note string) (domain.ConfirmationStatus, error) {
	var prev domain.ConfirmationStatus
	err := r.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `
			SELECT confirmation_status FROM orders WHERE id = $1 FOR UPDATE
		`, id).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		prev = domain.ConfirmationStatus(status)
		if err := domain.CheckConfirmationTransition(prev, to); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET confirmation_status = $2, updated_at = $3 WHERE id = $1
		`, id, string(to), now); err != nil {
			return fmt.Errorf("update confirmation status: %w", err)
		}
		return insertNote(ctx, tx, id, note, now)
	})
	return prev, err
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, update domain.OrderStatusUpdate) (domain.Order, error) {
	err := r.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var current domain.Order
		var orderStatus, shippingStatus string
		if err := tx.QueryRowContext(ctx, `
			SELECT order_status, shipping_status FROM orders WHERE id = $1 FOR UPDATE
		`, id).Scan(&orderStatus, &shippingStatus); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		current.OrderStatus = domain.OrderStatus(orderStatus)
		current.ShippingStatus = domain.ShippingStatus(shippingStatus)
		if err := domain.CheckStatusTransition(current, update); err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET order_status = COALESCE($2, order_status),
			    shipping_status = COALESCE($3, shipping_status),
			    delivered_at = COALESCE($4, delivered_at),
			    returned_at = COALESCE($5, returned_at),
			    return_reason = CASE WHEN $6 = '' THEN return_reason ELSE $6 END,
			    updated_at = $7
			WHERE id = $1
		`,
			id, nullableString(update.OrderStatus), nullableString(update.ShippingStatus),
			update.DeliveredAt, update.ReturnedAt, update.ReturnReason, now,
		); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return insertNote(ctx, tx, id, update.Note, now)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

func (r *orderRepository) SetCourierIfEmpty(ctx context.Context, id, courier string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET courier = $2, updated_at = $3 WHERE id = $1 AND courier = ''
	`, id, courier, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set courier: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
	}
	return nil
}

func (r *orderRepository) AppendNote(ctx context.Context, id, note string) error {
	return r.inTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE orders SET updated_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return fmt.Errorf("touch order: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if affected == 0 {
			return domain.ErrOrderNotFound
		}
		return insertNote(ctx, tx, id, note, now)
	})
}

func (r *orderRepository) get(ctx context.Context, where string, args ...any) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	if err := r.loadChildren(ctx, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) loadChildren(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, sku, name, qty, price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.SKU, &item.Name, &item.Qty, &item.PriceMinor); err != nil {
			rows.Close()
			return fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}
	order.Items = items

	noteRows, err := r.db.QueryContext(ctx, `
		SELECT text, created_at FROM order_notes WHERE order_id = $1 ORDER BY id
	`, order.ID)
	if err != nil {
		return fmt.Errorf("load order notes: %w", err)
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var note domain.OrderNote
		if err := noteRows.Scan(&note.Text, &note.CreatedAt); err != nil {
			return fmt.Errorf("scan order note: %w", err)
		}
		note.CreatedAt = note.CreatedAt.UTC()
		order.Notes = append(order.Notes, note)
	}
	if err := noteRows.Err(); err != nil {
		return fmt.Errorf("iterate order notes: %w", err)
	}
	return nil
}

func (r *orderRepository) exists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func (r *orderRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                   domain.Order
		address                                 []byte
		orderStatus, shippingStatus, confStatus string
		riskLevel, riskAction                   string
		deliveredAt, returnedAt                 sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.CustomerID, &order.AmountMinor, &order.Currency, &address,
		&orderStatus, &shippingStatus, &confStatus,
		&order.RiskScore, &riskLevel, &riskAction, &order.CurrentAssessmentID,
		&order.TrackingNumber, &order.Courier, &deliveredAt, &returnedAt, &order.ReturnReason,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	order.OrderStatus = domain.OrderStatus(orderStatus)
	order.ShippingStatus = domain.ShippingStatus(shippingStatus)
	order.ConfirmationStatus = domain.ConfirmationStatus(confStatus)
	order.RiskLevel = domain.RiskTier(riskLevel)
	order.RiskAction = domain.RiskAction(riskAction)
	order.DeliveredAt = nullTimePtr(deliveredAt)
	order.ReturnedAt = nullTimePtr(returnedAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func insertNote(ctx context.Context, tx *sql.Tx, orderID, note string, at time.Time) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_notes (order_id, text, created_at) VALUES ($1,$2,$3)
	`, orderID, note, at); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

func nullableString[T ~string](v *T) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

// Create вставляет покупателя или обновляет его контакты и статус.
func (r *customerRepository) Create(ctx context.Context, customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, email, status, is_blocked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    email = EXCLUDED.email,
		    status = EXCLUDED.status,
		    is_blocked = EXCLUDED.is_blocked
	`,
		customer.ID, customer.Name, customer.Phone, customer.Email,
		string(customer.Status), customer.IsBlocked, customer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) Get(ctx context.Context, id string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		customer domain.Customer
		status   string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, status, is_blocked, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Email, &status, &customer.IsBlocked, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	customer.Status = domain.CustomerStatus(status)
	customer.CreatedAt = customer.CreatedAt.UTC()
	return customer, nil
}

var (
	_ domain.OrderRepository    = (*orderRepository)(nil)
	_ domain.CustomerRepository = (*customerRepository)(nil)
)
