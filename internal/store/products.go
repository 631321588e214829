package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, original_price, discount_percent, stock, version, updated_at`

// CreateProduct inserts a catalog row. The catalog is owned elsewhere; this is
// used for seeding and tests.
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (name, original_price, discount_percent, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + productColumns

	return s.db.GetContext(ctx, product, query,
		product.Name, product.OriginalPrice, product.DiscountPercent, product.Stock)
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// DecrementStock takes quantity units in one conditional update. Concurrent
// callers racing for the last units cannot both succeed.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	var level models.StockLevel
	err := s.db.GetContext(ctx, &level, `
		UPDATE products
		SET stock = stock - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND stock >= $1
		RETURNING id, stock, version`,
		quantity, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missingOrShort(ctx, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}
	return &level, nil
}

// IncrementStock returns quantity units unconditionally
func (s *Store) IncrementStock(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	var level models.StockLevel
	err := s.db.GetContext(ctx, &level, `
		UPDATE products
		SET stock = stock + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING id, stock, version`,
		quantity, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("increment stock: %w", err)
	}
	return &level, nil
}

func (s *Store) missingOrShort(ctx context.Context, productID int64) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	return fmt.Errorf("%w: product %d", models.ErrInsufficientStock, productID)
}
