package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/realtime"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Source is where the worker reads messages from
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// RealtimeWorker fans domain events out to connected clients
type RealtimeWorker struct {
	consumer     Source
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewRealtimeWorker creates a new realtime worker
func NewRealtimeWorker(consumer Source, hub *realtime.Hub) *RealtimeWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnStockChanged(hub.StockChanged)
	eventHandler.OnOrderStatusChanged(hub.OrderStatusChanged)
	eventHandler.OnOrderCreated(hub.OrderCreated)

	return &RealtimeWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start runs until ctx is canceled
func (w *RealtimeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting realtime worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RealtimeWorker) Stop() error {
	w.logger.Info("Stopping realtime worker")
	return w.consumer.Close()
}
