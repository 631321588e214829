package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventNotifier publishes realtime events through the broker in the
// background, each publish bounded by timeout.
type EventNotifier struct {
	publisher EventPublisher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEventNotifier creates a notifier backed by the broker publisher
func NewEventNotifier(publisher EventPublisher, timeout time.Duration) *EventNotifier {
	return &EventNotifier{
		publisher: publisher,
		timeout:   timeout,
		logger:    util.GetLogger(),
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func (n *EventNotifier) StockChanged(_ context.Context, levels []models.StockLevel) {
	if len(levels) == 0 {
		return
	}
	event := &models.StockChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeStockChanged),
		Levels:    append([]models.StockLevel(nil), levels...),
	}
	n.publish(event.EventType, func(ctx context.Context) error {
		return n.publisher.PublishStockChanged(ctx, event)
	})
}

func (n *EventNotifier) OrderCreated(_ context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(models.MoneyPlaces),
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		Code:          order.Code,
		UserID:        order.CreatedBy,
		PaymentMethod: order.PaymentMethod,
		Status:        order.Status,
		Subtotal:      order.Subtotal.StringFixed(models.MoneyPlaces),
		Items:         items,
	}
	n.publish(event.EventType, func(ctx context.Context) error {
		return n.publisher.PublishOrderCreated(ctx, event)
	})
}

func (n *EventNotifier) OrderStatusChanged(_ context.Context, order *models.Order, from string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   order.ID,
		UserID:    order.CreatedBy,
		From:      from,
		To:        order.Status,
		Reason:    order.CancelReason,
	}
	n.publish(event.EventType, func(ctx context.Context) error {
		return n.publisher.PublishOrderStatusChanged(ctx, event)
	})
}

// publish runs fn detached from the request so a slow broker never holds up
// the flow that produced the event.
func (n *EventNotifier) publish(eventType string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			util.NotificationsFailedTotal.Inc()
			n.logger.Warn("Failed to publish realtime event",
				zap.String("event_type", eventType),
				zap.Error(err))
		}
	}()
}
