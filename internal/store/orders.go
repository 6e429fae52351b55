package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"canteen-service/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateOrder inserts a new order; id and timestamps are assigned here
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	order.ID = uuid.New().String()

	query := `
		INSERT INTO orders (id, pid, items, subtotal, status, payment_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := s.q.GetContext(ctx, order, query,
		order.ID, order.PID, order.Items, order.Subtotal, order.Status, order.PaymentCode, order.IdempotencyKey)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order with this payment code or idempotency key exists", models.ErrConflict)
	}
	return err
}

// ImportOrder re-inserts an exported order under a new id, keeping its timestamps
func (s *Store) ImportOrder(ctx context.Context, order *models.Order) error {
	order.ID = uuid.New().String()
	order.IdempotencyKey = nil

	query := `
		INSERT INTO orders (id, pid, items, subtotal, status, payment_code, created_at, updated_at, payment_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), COALESCE($8, NOW()), $9)
		RETURNING created_at, updated_at`

	err := s.q.GetContext(ctx, order, query,
		order.ID, order.PID, order.Items, order.Subtotal, order.Status, order.PaymentCode,
		nullTime(order.CreatedAt), nullTime(order.UpdatedAt), order.PaymentVerifiedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: active order with payment code %s exists", models.ErrConflict, order.PaymentCode)
	}
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByPaymentCode retrieves the order holding a payment code, preferring
// orders that are not yet terminal
func (s *Store) GetOrderByPaymentCode(ctx context.Context, code string) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, `
		SELECT * FROM orders
		WHERE payment_code = $1
		ORDER BY (status IN ('FULFILLED', 'CANCELLED')), created_at DESC
		LIMIT 1`, code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no order for payment code %s", models.ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves pid's order placed under key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, pid, key string) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE pid = $1 AND idempotency_key = $2", pid, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// PaymentCodeInUse reports whether a non-terminal order holds the code
func (s *Store) PaymentCodeInUse(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE payment_code = $1 AND status NOT IN ('FULFILLED', 'CANCELLED')
		)`, code)
	return exists, err
}

// TransitionOrder conditionally updates order status
func (s *Store) TransitionOrder(ctx context.Context, id string, from []string, to string) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $1::text,
			updated_at = NOW(),
			payment_verified_at = CASE WHEN $1::text = 'VERIFIED' THEN NOW() ELSE payment_verified_at END
		WHERE id = $2 AND status = ANY($3)
		RETURNING *`,
		to, id, pq.Array(from))
	if err == sql.ErrNoRows {
		current, getErr := s.GetOrderByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, fmt.Errorf("%w: order %s is %s", models.ErrInvalidState, id, current.Status)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves orders matching a filter, newest first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	query, args := buildOrderQuery(filter)

	orders := []models.Order{}
	err := s.q.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// DeleteOrder removes an order
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectAffected(res, "order", id)
}

// DeleteAllOrders removes every order
func (s *Store) DeleteAllOrders(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, "DELETE FROM orders")
	return err
}

func buildOrderQuery(filter models.OrderFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if filter.PID != "" {
		args = append(args, filter.PID)
		conds = append(conds, fmt.Sprintf("pid = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Search))+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(LOWER(pid) LIKE $%d OR LOWER(payment_code) LIKE $%d OR LOWER(status) LIKE $%d)", n, n, n))
	}

	query := "SELECT * FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return query, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, kind, id)
	}
	return nil
}
