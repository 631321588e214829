package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, code, created_by, updated_by, address, phone, note, payment_method,
	status, total, discount, subtotal, intent_id, cancel_reason, paid_at, frozen_at,
	restored_at, created_at, updated_at`

// CreateOrder inserts the order and its line items in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.withRetry(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (code, created_by, address, phone, note, payment_method,
				status, total, discount, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+orderColumns,
			order.Code, order.CreatedBy, order.Address, order.Phone, order.Note,
			order.PaymentMethod, order.Status, order.Total, order.Discount, order.Subtotal)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate order code %s", models.ErrConflict, order.Code)
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			if err := tx.GetContext(ctx, &item.ID, `
				INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, final_price)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id`,
				item.OrderID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.FinalPrice); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

// GetOrderByID retrieves a live (not archived) order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND frozen_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves live orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE created_by = $1 AND frozen_at IS NULL ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// TransitionStatus moves an order to t.To only if its current status is one of
// t.From, in a single conditional write. Zero matched rows means another
// operation won the race or the order was never eligible.
func (s *Store) TransitionStatus(ctx context.Context, t models.StatusTransition) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders
		SET status = $2,
			updated_by = COALESCE($3, updated_by),
			cancel_reason = CASE WHEN $4::text <> '' THEN $4::text ELSE cancel_reason END,
			paid_at = CASE WHEN $5::boolean THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE id = $1
			AND status = ANY($6)
			AND ($7::text = '' OR payment_method = $7::text)
			AND frozen_at IS NULL
		RETURNING `+orderColumns,
		t.OrderID, t.To, t.UpdatedBy, t.CancelReason, t.MarkPaid, pq.Array(t.From), t.PaymentMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotEligible, t.OrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("transition order status: %w", err)
	}
	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SetPaymentIntent stores the processor intent reference on a pending card order
func (s *Store) SetPaymentIntent(ctx context.Context, orderID int64, intentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET intent_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND payment_method = $4 AND frozen_at IS NULL`,
		orderID, intentID, models.OrderStatusPending, models.PaymentMethodCard)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: order %d", models.ErrNotEligible, orderID))
}

// UpdatePricing writes total, discount and subtotal if the order is still in expectedStatus
func (s *Store) UpdatePricing(ctx context.Context, order *models.Order, expectedStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET total = $2, discount = $3, subtotal = $4, updated_by = COALESCE($5, updated_by), updated_at = NOW()
		WHERE id = $1 AND status = $6 AND frozen_at IS NULL`,
		order.ID, order.Total, order.Discount, order.Subtotal, order.UpdatedBy, expectedStatus)
	if err != nil {
		return fmt.Errorf("update order pricing: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: order %d", models.ErrNotEligible, order.ID))
}

// ArchiveOrder soft deletes an order owned by ownerID
func (s *Store) ArchiveOrder(ctx context.Context, orderID, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET frozen_at = NOW(), restored_at = NULL, updated_by = $2, updated_at = NOW()
		WHERE id = $1 AND created_by = $2 AND frozen_at IS NULL`, orderID, ownerID)
	if err != nil {
		return fmt.Errorf("archive order: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID))
}

// UnarchiveOrder restores a soft deleted order owned by ownerID
func (s *Store) UnarchiveOrder(ctx context.Context, orderID, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET frozen_at = NULL, restored_at = NOW(), updated_by = $2, updated_at = NOW()
		WHERE id = $1 AND created_by = $2 AND frozen_at IS NOT NULL`, orderID, ownerID)
	if err != nil {
		return fmt.Errorf("unarchive order: %w", err)
	}
	return expectOneRow(res, fmt.Errorf("%w: archived order %d", models.ErrOrderNotFound, orderID))
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	order.Items = []models.OrderItem{}
	if err := s.db.SelectContext(ctx, &order.Items, `
		SELECT id, order_id, product_id, name, quantity, unit_price, final_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, order.ID); err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, notMatched error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return notMatched
	}
	return nil
}
