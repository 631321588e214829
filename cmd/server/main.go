package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/payment"
	"checkout-service/internal/realtime"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "checkout-service"
	streamBuffer    = 32
	shutdownTimeout = 10 * time.Second
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(serviceName, cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	notifier := service.NewEventNotifier(broker.NewEventPublisher(producer), cfg.Business.NotificationTimeout)

	ledger := service.NewInventoryLedger(db, notifier)
	cartService := service.NewCartService(db, db)
	paymentService := service.NewPaymentService(payment.NewStripeProcessor(cfg.Payment))
	orderService := service.NewOrderService(
		db,
		db,
		cartService,
		ledger,
		paymentService,
		redisClient,
		redisClient,
		notifier,
		service.OrderOptions{
			Currency:           cfg.Payment.Currency,
			SuccessURL:         cfg.Payment.SuccessURL,
			CancelURL:          cfg.Payment.CancelURL,
			PaymentMethodToken: cfg.Payment.PaymentMethodToken,
			CreateLockTTL:      cfg.Business.CreateLockTTL,
			WebhookDedupTTL:    cfg.Business.WebhookDedupTTL,
		},
	)

	registry := realtime.NewRegistry(streamBuffer)
	hub := realtime.NewHub(registry)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// every replica serves its own SSE clients, so each needs the full stream
	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, broker.FanoutGroupID(cfg.Kafka.ConsumerGroup))
	realtimeWorker := worker.NewRealtimeWorker(consumer, hub)

	workers, workerCtx := errgroup.WithContext(workerCtx)
	workers.Go(func() error {
		return realtimeWorker.Start(workerCtx)
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, cartService, registry, map[string]api.ReadinessCheck{
		"postgres": db.Ping,
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// zero keeps event streams open
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-workerCtx.Done():
		logger.Error("Realtime worker stopped unexpectedly")
	}

	logger.Info("Shutting down server...")

	// end open streams first so Shutdown does not wait on them
	registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := workers.Wait(); err != nil {
		logger.Error("Realtime worker error", zap.Error(err))
	}
	if err := realtimeWorker.Stop(); err != nil {
		logger.Error("Failed to close consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
