package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nutrify/config"
	"nutrify/cron"
	"nutrify/database"
	paymentRepo "nutrify/database/repository/payment"
	"nutrify/handlers"
	"nutrify/routes"
	"nutrify/services/audit"
	"nutrify/services/mpesa"
	"nutrify/services/payment"
	"nutrify/services/tasks"
	"nutrify/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	defer logger.Sync()

	database.InitDB()

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())

	// Audit trail: always the structured log, plus Kafka when brokers are configured.
	recorders := audit.Tee{audit.NewZapRecorder(logger)}
	var kafkaAudit *audit.KafkaRecorder
	if brokers := config.AppConfig.KafkaBrokers(); len(brokers) > 0 {
		kafkaAudit = audit.NewKafkaRecorder(brokers, config.AppConfig.AuditKafkaTopic, logger)
		recorders = append(recorders, kafkaAudit)
		logger.Sugar().Infof("main: audit events published to kafka topic %s", config.AppConfig.AuditKafkaTopic)
	}

	// repositories.
	repo := paymentRepo.NewMongoPaymentRepo(logger)

	// M-Pesa gateway.
	mpesaCfg := config.AppConfig.Mpesa().WithDefaults()
	httpClient := &http.Client{Timeout: mpesaCfg.RequestTimeout}
	policy := mpesa.DefaultTokenRetryPolicy()
	policy.MaxAttempts = mpesaCfg.TokenMaxAttempts
	tokens := mpesa.NewTokenManager(mpesaCfg, httpClient, policy, recorders, logger)
	if config.AppConfig.MpesaTokenCache {
		tokens.WithCache(mpesa.NewRedisTokenCache(utils.GetCacheClient(), logger))
	}
	stk := mpesa.NewSTKClient(mpesaCfg, httpClient)

	// services.
	paymentService, err := payment.NewPaymentService(mpesaCfg, repo, tokens, stk, recorders, logger)
	if err != nil {
		logger.Sugar().Fatalf("main: payment service misconfigured: %v", err)
	}

	// Background reconciliation.
	queueOpt := utils.QueueRedisOpt()
	queueClient := asynq.NewClient(queueOpt)
	callbackQueue := tasks.NewCallbackQueue(queueClient, logger)
	worker := cron.NewPaymentWorker(queueOpt, paymentService,
		config.AppConfig.PaymentPendingTimeout, config.AppConfig.PaymentSweepInterval, logger)
	if err := worker.Start(); err != nil {
		logger.Sugar().Fatalf("main: failed to start payment worker: %v", err)
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	checks := map[string]utils.HealthCheck{
		"mongo": func(ctx context.Context) error { return database.MongoClient.Ping(ctx, nil) },
		"queue": worker.Ping,
	}
	if config.AppConfig.MpesaTokenCache {
		checks["redis"] = func(ctx context.Context) error { return utils.GetCacheClient().Ping(ctx).Err() }
	}
	health := utils.NewHealthMonitor(checks)
	health.StartHealthMonitor(healthCtx, time.Minute)

	paymentHandler := handlers.NewPaymentHandler(paymentService, callbackQueue)
	adminHandler := handlers.NewAdminHandler(paymentService, config.AppConfig.PaymentPendingTimeout)

	// Assemble the handler bundle.
	handlerBundle := &handlers.HandlerBundle{
		InitiateRateLimit: config.AppConfig.MaxRequestsPerMin,

		// Payment endpoints.
		InitiateSTKPush: paymentHandler.InitiateSTKPush,
		MpesaCallback:   paymentHandler.MpesaCallback,
		PaymentStatus:   paymentHandler.PaymentStatus,

		// Admin endpoints.
		AdminHandler: adminHandler,

		Health: health,
	}

	// Register routes with the assembled handler bundle.
	routes.RegisterRoutes(router, handlerBundle)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}

	stopHealth()
	worker.Shutdown()
	if err := queueClient.Close(); err != nil {
		logger.Sugar().Warnf("main: failed to close task queue client: %v", err)
	}
	if kafkaAudit != nil {
		if err := kafkaAudit.Close(); err != nil {
			logger.Sugar().Warnf("main: failed to flush audit events: %v", err)
		}
	}
	if err := database.CloseDB(ctx); err != nil {
		logger.Sugar().Warnf("main: failed to disconnect from MongoDB: %v", err)
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
