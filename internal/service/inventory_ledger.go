package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// compensationTimeout bounds writes that run after the caller is gone
const compensationTimeout = 10 * time.Second

// detach keeps the values of ctx (trace, span) but not its cancellation.
// Steps past the point of no return run under it so a client disconnect
// cannot leave stock reserved or an order half canceled.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
}

// InventoryLedger is the only writer of product stock
type InventoryLedger struct {
	stock    StockStore
	notifier Notifier
	logger   *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(stock StockStore, notifier Notifier) *InventoryLedger {
	return &InventoryLedger{
		stock:    stock,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// Reserve takes quantity units of a product or fails with ErrInsufficientStock
func (l *InventoryLedger) Reserve(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	level, err := l.reserve(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	l.notifier.StockChanged(ctx, []models.StockLevel{*level})
	return level, nil
}

// Restore gives quantity units back. The ledger keeps no memory of what was
// restored; callers guard against doing it twice.
func (l *InventoryLedger) Restore(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	level, err := l.restore(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	l.notifier.StockChanged(ctx, []models.StockLevel{*level})
	return level, nil
}

// ReserveAll reserves every line or none of them. On the first failure the
// lines already reserved are given back before the error is returned.
func (l *InventoryLedger) ReserveAll(ctx context.Context, lines []models.CartLine) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.ReserveAll", attribute.Int("lines", len(lines)))
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	levels := make([]models.StockLevel, 0, len(lines))
	for i, line := range lines {
		level, err := l.reserve(ctx, line.ProductID, line.Quantity)
		if err != nil {
			reason := "error"
			if errors.Is(err, models.ErrInsufficientStock) {
				reason = "insufficient_stock"
			}
			util.InventoryReservationsFailed.WithLabelValues(reason).Inc()

			levels = l.compensate(ctx, lines[:i])
			if len(levels) > 0 {
				l.notifier.StockChanged(ctx, levels)
			}
			util.SpanError(span, err)
			return err
		}
		levels = append(levels, *level)
	}

	l.notifier.StockChanged(ctx, levels)
	return nil
}

// RestoreAll gives back the stock held by an order's items. Every item is
// attempted, even if ctx is canceled; failures are joined into the returned error.
func (l *InventoryLedger) RestoreAll(ctx context.Context, items []models.OrderItem) error {
	ctx, cancel := detach(ctx)
	defer cancel()
	ctx, span := util.StartSpan(ctx, "InventoryLedger.RestoreAll", attribute.Int("items", len(items)))
	defer span.End()

	var errs []error
	levels := make([]models.StockLevel, 0, len(items))
	for _, item := range items {
		level, err := l.restore(ctx, item.ProductID, item.Quantity)
		if err != nil {
			util.CompensationFailuresTotal.WithLabelValues("restore_stock").Inc()
			l.logger.Error("Failed to restore stock",
				zap.Int64("order_id", item.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		levels = append(levels, *level)
	}

	if len(levels) > 0 {
		l.notifier.StockChanged(ctx, levels)
	}
	err := errors.Join(errs...)
	util.SpanError(span, err)
	return err
}

// compensate gives back lines that were already reserved
func (l *InventoryLedger) compensate(ctx context.Context, reserved []models.CartLine) []models.StockLevel {
	ctx, cancel := detach(ctx)
	defer cancel()

	levels := make([]models.StockLevel, 0, len(reserved))
	for _, line := range reserved {
		level, err := l.restore(ctx, line.ProductID, line.Quantity)
		if err != nil {
			util.CompensationFailuresTotal.WithLabelValues("release_reservation").Inc()
			l.logger.Error("Failed to compensate reservation",
				zap.Int64("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
			continue
		}
		levels = append(levels, *level)
	}
	return levels
}

func (l *InventoryLedger) reserve(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	if quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	level, err := l.stock.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("reserve product %d: %w", productID, err)
	}
	return level, nil
}

func (l *InventoryLedger) restore(ctx context.Context, productID int64, quantity int) (*models.StockLevel, error) {
	if quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	level, err := l.stock.IncrementStock(ctx, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("restore product %d: %w", productID, err)
	}
	return level, nil
}
