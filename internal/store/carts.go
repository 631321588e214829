package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCart retrieves the owner's cart with its lines
func (s *Store) GetCart(ctx context.Context, ownerID int64) (*models.Cart, error) {
	return getCart(ctx, s.db, ownerID)
}

// UpsertCartItem creates the cart on first add and sets the line quantity,
// replacing the previous quantity of the same product.
func (s *Store) UpsertCartItem(ctx context.Context, ownerID, productID int64, quantity int) (*models.Cart, bool, error) {
	var (
		cart    *models.Cart
		created bool
	)

	err := s.withRetry(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &created, `
			INSERT INTO carts (owner_id) VALUES ($1)
			ON CONFLICT (owner_id) DO UPDATE SET updated_at = NOW()
			RETURNING (xmax = 0)`, ownerID); err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (owner_id, product_id, quantity) VALUES ($1, $2, $3)
			ON CONFLICT (owner_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
			ownerID, productID, quantity); err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}

		var err error
		cart, err = getCart(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return cart, created, nil
}

// ReplaceCartItems overwrites the cart lines with items
func (s *Store) ReplaceCartItems(ctx context.Context, ownerID int64, items []models.CartItem) (*models.Cart, error) {
	var cart *models.Cart

	err := s.withRetry(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE carts SET updated_at = NOW() WHERE owner_id = $1", ownerID)
		if err != nil {
			return fmt.Errorf("touch cart: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return models.ErrCartNotFound
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE owner_id = $1", ownerID); err != nil {
			return fmt.Errorf("clear cart items: %w", err)
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO cart_items (owner_id, product_id, quantity) VALUES ($1, $2, $3)",
				ownerID, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("insert cart item: %w", err)
			}
		}

		cart, err = getCart(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// DeleteCart removes the owner's cart and its lines
func (s *Store) DeleteCart(ctx context.Context, ownerID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM carts WHERE owner_id = $1", ownerID)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrCartNotFound
	}
	return nil
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getCart(ctx context.Context, q queryer, ownerID int64) (*models.Cart, error) {
	var cart models.Cart
	err := q.GetContext(ctx, &cart,
		"SELECT owner_id, created_at, updated_at FROM carts WHERE owner_id = $1", ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCartNotFound
	}
	if err != nil {
		return nil, err
	}

	cart.Items = []models.CartItem{}
	if err := q.SelectContext(ctx, &cart.Items,
		"SELECT product_id, quantity FROM cart_items WHERE owner_id = $1 ORDER BY product_id", ownerID); err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	return &cart, nil
}
