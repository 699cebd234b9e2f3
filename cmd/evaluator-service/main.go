package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"evalhub/internal/common/cache"
	"evalhub/internal/common/db"
	commonmw "evalhub/internal/common/http/middleware"
	"evalhub/internal/common/mq"
	"evalhub/internal/common/storage"
	"evalhub/internal/eval/backend"
	"evalhub/internal/eval/controller"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	"evalhub/internal/eval/service"
	"evalhub/pkg/utils/logger"
)

const defaultConfigPath = "configs/evaluator_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB)
	jobRepo := repository.NewJobRepository(redisCache)
	verdictRepo := repository.NewVerdictRepository(mysqlDB, redisCache)

	intakeService, err := service.NewIntakeService(service.IntakeConfig{
		Submissions:        submissionRepo,
		Jobs:               jobRepo,
		Verdicts:           verdictRepo,
		Storage:            objStorage,
		Producer:           mqClient,
		Cache:              redisCache,
		Bucket:             appCfg.Intake.SourceBucket,
		RateLimitPerMinute: appCfg.Intake.RateLimitPerMinute,
		OperationTimeout:   appCfg.Intake.OperationTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init intake service failed", zap.Error(err))
		return
	}

	orchestrator, err := service.NewOrchestrator(service.OrchestratorConfig{
		Adapters: map[model.BackendKind]backend.Evaluator{
			model.BackendSync:      backend.NewSyncAdapter(appCfg.Backends.Sync),
			model.BackendAsyncPoll: backend.NewAsyncPollAdapter(appCfg.Backends.AsyncPoll),
		},
		Jobs:               jobRepo,
		Verdicts:           verdictRepo,
		Storage:            objStorage,
		Bucket:             appCfg.Intake.SourceBucket,
		MaxConcurrent:      appCfg.Evaluation.MaxConcurrent,
		SlotWaitTimeout:    appCfg.Evaluation.SlotWaitTimeout,
		EvaluationDeadline: appCfg.Evaluation.Deadline,
		MaxAttempts:        appCfg.Evaluation.MaxAttempts,
		RetryBaseDelay:     appCfg.Evaluation.RetryBaseDelay,
		RetryMaxDelay:      appCfg.Evaluation.RetryMaxDelay,
	})
	if err != nil {
		logger.Error(context.Background(), "init orchestrator failed", zap.Error(err))
		return
	}

	consumerOpts := &mq.SubscribeOptions{
		ConsumerGroup: appCfg.Evaluation.ConsumerGroup,
		Concurrency:   appCfg.Evaluation.ConsumerConcurrency,
	}
	consumerOpts.SetDefaults()
	if err := mqClient.SubscribeWithOptions(context.Background(), model.EvaluationTopic, orchestrator.HandleMessage, consumerOpts); err != nil {
		logger.Error(context.Background(), "subscribe evaluation topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, intakeService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "evaluator http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, intakeService *service.IntakeService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1")
	controller.NewSubmissionController(intakeService).RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
