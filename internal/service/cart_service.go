package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages the single cart each owner has and prices it against the catalog
type CartService struct {
	carts   CartStore
	catalog Catalog
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, catalog Catalog) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		logger:  util.GetLogger(),
	}
}

// AddItemRequest represents a request to put a product in the cart
type AddItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// RemoveItemsRequest represents a request to drop products from the cart
type RemoveItemsRequest struct {
	ProductIDs []int64 `json:"product_ids" binding:"required,min=1"`
}

// AddItem sets the quantity of a product in the owner's cart, creating the
// cart on first use. The product must currently have quantity in stock.
func (s *CartService) AddItem(ctx context.Context, ownerID int64, req *AddItemRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if req.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	product, err := s.catalog.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if product.Stock < req.Quantity {
		return nil, fmt.Errorf("%w: product %d has %d left", models.ErrInsufficientStock, product.ID, product.Stock)
	}

	cart, created, err := s.carts.UpsertCartItem(ctx, ownerID, req.ProductID, req.Quantity)
	if err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}
	if created {
		s.logger.Info("Cart created", zap.Int64("owner_id", ownerID))
	}
	return cart, nil
}

// RemoveItems drops the given products from the cart. The remaining set is
// computed here and written back as a whole.
func (s *CartService) RemoveItems(ctx context.Context, ownerID int64, req *RemoveItemsRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItems")
	defer span.End()

	cart, err := s.carts.GetCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	remaining := withoutProducts(cart.Items, req.ProductIDs)
	if len(remaining) == len(cart.Items) {
		return nil, fmt.Errorf("%w: none of the products are in the cart", models.ErrProductNotFound)
	}

	cart, err = s.carts.ReplaceCartItems(ctx, ownerID, remaining)
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	return cart, nil
}

// withoutProducts returns items minus every line whose product is in ids
func withoutProducts(items []models.CartItem, ids []int64) []models.CartItem {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]models.CartItem, 0, len(items))
	for _, item := range items {
		if _, ok := drop[item.ProductID]; !ok {
			kept = append(kept, item)
		}
	}
	return kept
}

// Clear deletes the owner's cart
func (s *CartService) Clear(ctx context.Context, ownerID int64) error {
	return s.carts.DeleteCart(ctx, ownerID)
}

// Get returns the owner's cart priced at current sale prices. An existing
// cart with no lines is returned as an empty view.
func (s *CartService) Get(ctx context.Context, ownerID int64) (*models.CartView, error) {
	cart, err := s.carts.GetCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

// Snapshot prices the cart for order creation. A missing or empty cart is ErrEmptyCart.
func (s *CartService) Snapshot(ctx context.Context, ownerID int64) (*models.CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Snapshot")
	defer span.End()

	cart, err := s.carts.GetCart(ctx, ownerID)
	if errors.Is(err, models.ErrCartNotFound) {
		return nil, models.ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, models.ErrEmptyCart
	}
	return s.price(ctx, cart)
}

func (s *CartService) price(ctx context.Context, cart *models.Cart) (*models.CartView, error) {
	view := &models.CartView{OwnerID: cart.OwnerID, Lines: []models.CartLine{}, Total: decimal.Zero}
	if len(cart.Items) == 0 {
		return view, nil
	}

	ids := make([]int64, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.ProductID
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart products: %w", err)
	}
	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, item := range cart.Items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, item.ProductID)
		}
		unitPrice := product.SalePrice()
		lineTotal := models.LineTotal(unitPrice, item.Quantity)
		view.Lines = append(view.Lines, models.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})
		view.Total = view.Total.Add(lineTotal)
	}
	return view, nil
}
