package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Event names sent to clients
const (
	EventStock       = "stock"
	EventOrderStatus = "order_status"
	EventOrderNew    = "order_created"
)

// Hub turns domain events into client messages
type Hub struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHub creates a hub delivering through registry
func NewHub(registry *Registry) *Hub {
	return &Hub{registry: registry, logger: util.GetLogger()}
}

// Broadcast sends m to every connection and returns how many accepted it
func (h *Hub) Broadcast(m Message) int {
	return h.deliver(h.registry.All(), m)
}

// SendToOwner sends m to the connections of ownerID
func (h *Hub) SendToOwner(ownerID int64, m Message) int {
	return h.deliver(h.registry.Lookup(ownerID), m)
}

func (h *Hub) deliver(conns []*Conn, m Message) int {
	sent := 0
	for _, c := range conns {
		if c.offer(m) {
			sent++
			continue
		}
		h.logger.Debug("Dropped realtime message",
			zap.String("conn_id", c.ID),
			zap.String("event", m.Event))
	}
	return sent
}

// StockChanged pushes new stock levels to every client
func (h *Hub) StockChanged(_ context.Context, event *models.StockChangedEvent) error {
	m, err := newMessage(EventStock, event.Levels)
	if err != nil {
		return err
	}
	h.Broadcast(m)
	return nil
}

// OrderStatusChanged pushes a status change to the order's owner
func (h *Hub) OrderStatusChanged(_ context.Context, event *models.OrderStatusChangedEvent) error {
	m, err := newMessage(EventOrderStatus, event)
	if err != nil {
		return err
	}
	h.SendToOwner(event.UserID, m)
	return nil
}

// OrderCreated pushes a new order to its owner
func (h *Hub) OrderCreated(_ context.Context, event *models.OrderCreatedEvent) error {
	m, err := newMessage(EventOrderNew, event)
	if err != nil {
		return err
	}
	h.SendToOwner(event.UserID, m)
	return nil
}

func newMessage(event string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s message: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}
