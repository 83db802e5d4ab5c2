package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"station-svc/cache"
	"station-svc/config"
	"station-svc/database"
	"station-svc/grpc"
	"station-svc/handlers"
	"station-svc/kafka"
	"station-svc/middleware"
	"station-svc/qrpayload"
	"station-svc/scanner"
	"station-svc/subscriber"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// realtime is the transport chosen by REALTIME_DRIVER.
type realtime struct {
	backend   subscriber.Backend
	publisher handlers.Publisher
	start     func(ctx context.Context) error
	closers   []func() error
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("station-service", cfg.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Transactions live in Postgres when configured, in memory otherwise
	var store database.Store
	var closers []func() error
	if cfg.PostgresDSN() != "" {
		db, err := database.InitDB(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		closers = append(closers, db.Close)
		store = database.NewPostgresStore(db)
	} else {
		logger.Warn("DB_HOST not set, transactions are kept in memory")
		store = database.NewMemoryStore()
	}

	var redisClient *redis.Client
	if cfg.RedisCache || cfg.RealtimeDriver == config.DriverRedis {
		redisClient, err = cache.InitRedis(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Redis", zap.Error(err))
		}
		closers = append(closers, redisClient.Close)
	}

	rt, err := initRealtime(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize realtime transport", zap.Error(err))
	}
	closers = append(closers, rt.closers...)

	var cacheClient *redis.Client
	if cfg.RedisCache {
		cacheClient = redisClient
	}

	subs := subscriber.NewTransactionSubscriber(rt.backend, logger, subscriber.WithSimulatedDelay(cfg.SimulatedDelay))
	if subs.Simulated() {
		logger.Warn("REALTIME_DRIVER not set, transaction confirmations are simulated",
			zap.Duration("delay", cfg.SimulatedDelay))
	}

	feed := scanner.NewFeedPlatform(cfg.ScannerDevices)
	capture := scanner.DefaultCaptureConfig()
	capture.FPS = cfg.ScannerFPS
	capture.BoxWidth, capture.BoxHeight = cfg.ScannerBoxSize, cfg.ScannerBoxSize

	scannerHandler := handlers.NewScannerHandler(feed, scanner.Surface{Name: "reader"}, capture, logger)
	walletHandler := handlers.NewWalletHandler(logger)
	transactionHandler := handlers.NewTransactionHandler(store, rt.publisher, subs, cacheClient, cfg.StatusStreamTimeout, logger)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("station-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	staff := middleware.AuthMiddleware(cfg.JWTSecret, middleware.RoleAdmin, middleware.RoleAttendant)

	scannerRoutes := router.Group("/scanner", staff)
	scannerRoutes.POST("/start", scannerHandler.Start)
	scannerRoutes.POST("/stop", scannerHandler.Stop)
	scannerRoutes.GET("/state", scannerHandler.State)
	scannerRoutes.POST("/frames", scannerHandler.PushFrame)
	scannerRoutes.GET("/last", scannerHandler.Last)
	if _, ok := qrpayload.DebugPayload(); ok && !cfg.Production() {
		scannerRoutes.POST("/simulate", scannerHandler.Simulate)
	}

	router.POST("/wallet/qr", walletHandler.QRCode)
	router.POST("/wallet/payload", walletHandler.Payload)
	router.POST("/wallet/decode", walletHandler.Decode)

	router.POST("/transactions", staff, transactionHandler.CreateTransaction)
	router.GET("/transactions/:id", transactionHandler.GetTransaction)
	router.PATCH("/transactions/:id/status", staff, transactionHandler.UpdateStatus)
	router.GET("/transactions/:id/events", transactionHandler.StreamEvents)

	restSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Station Service REST API started", zap.String("port", cfg.Port))

	healthServer, err := grpc.StartHealthServer(":"+cfg.GRPCPort, logger)
	if err != nil {
		logger.Fatal("Failed to start gRPC health server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	realtimeDone := make(chan struct{})
	if rt.start == nil {
		close(realtimeDone)
	} else {
		go func() {
			defer close(realtimeDone)
			if err := rt.start(ctx); err != nil {
				logger.Error("Realtime consumer stopped", zap.Error(err))
			}
			if ctx.Err() == nil {
				healthServer.SetServing(grpc.ServiceRealtime, false)
			}
		}()
	}

	gracefulShutdown(restSrv, healthServer, scannerHandler, cancel, realtimeDone, closers, shutdownTracing, logger)
}

func initRealtime(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (*realtime, error) {
	switch cfg.RealtimeDriver {
	case "":
		return &realtime{}, nil

	case config.DriverKafka:
		consumer, err := kafka.InitConsumer(cfg, logger)
		if err != nil {
			return nil, err
		}
		producer, err := kafka.InitProducer(cfg, logger)
		if err != nil {
			consumer.Close()
			return nil, err
		}
		hub := kafka.NewHub(consumer, cfg.KafkaTopic, logger)
		publisher := kafka.NewPublisher(producer, cfg.KafkaTopic, logger)
		return &realtime{
			backend:   hub,
			publisher: publisher,
			start:     hub.Start,
			closers:   []func() error{consumer.Close, publisher.Close},
		}, nil

	case config.DriverRedis:
		pubsub := cache.NewPubSub(redisClient, logger)
		return &realtime{backend: pubsub, publisher: pubsub}, nil

	case config.DriverPostgres:
		if cfg.PostgresDSN() == "" {
			return nil, fmt.Errorf("realtime driver %q requires DB_HOST", cfg.RealtimeDriver)
		}
		pqListener, err := database.InitListener(cfg, logger)
		if err != nil {
			return nil, err
		}
		listener := database.NewListener(pqListener, logger)
		// Status updates are announced by the transactions trigger.
		return &realtime{
			backend: listener,
			start: func(ctx context.Context) error {
				listener.Start(ctx)
				return nil
			},
			closers: []func() error{pqListener.Close},
		}, nil
	}
	return nil, fmt.Errorf("unknown realtime driver %q", cfg.RealtimeDriver)
}

// gracefulShutdown handles SIGINT/SIGTERM and shuts down all services gracefully
func gracefulShutdown(
	restSrv *http.Server,
	healthServer *grpc.HealthServer,
	scannerHandler *handlers.ScannerHandler,
	stopRealtime context.CancelFunc,
	realtimeDone <-chan struct{},
	closers []func() error,
	shutdownTracing func(),
	logger *zap.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop REST server
	if err := restSrv.Shutdown(ctx); err != nil {
		logger.Error("REST server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("REST server stopped gracefully")
	}

	healthServer.Stop()
	logger.Info("gRPC server stopped gracefully")

	// Release the camera before the transports go away
	if err := scannerHandler.Close(); err != nil {
		logger.Error("Failed to stop scanner", zap.Error(err))
	}

	stopRealtime()
	select {
	case <-realtimeDone:
	case <-ctx.Done():
		logger.Warn("Realtime consumer did not stop in time")
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error("Failed to close resource", zap.Error(err))
		}
	}

	// Shutdown tracing
	shutdownTracing()
	logger.Info("Station Service exited gracefully")
}
