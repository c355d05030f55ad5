package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/zps-fees-api/api/swagger"
	"github.com/noah-isme/zps-fees-api/internal/handler"
	"github.com/noah-isme/zps-fees-api/internal/middleware"
	"github.com/noah-isme/zps-fees-api/internal/repository"
	"github.com/noah-isme/zps-fees-api/internal/service"
	"github.com/noah-isme/zps-fees-api/pkg/cache"
	"github.com/noah-isme/zps-fees-api/pkg/config"
	"github.com/noah-isme/zps-fees-api/pkg/database"
	"github.com/noah-isme/zps-fees-api/pkg/jobs"
	"github.com/noah-isme/zps-fees-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/zps-fees-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/zps-fees-api/pkg/middleware/requestid"
)

// @title ZPS Fees API
// @version 0.1.0
// @description School fee ledger and arrears reconciliation service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
	}

	termRepo := repository.NewTermRepository(db)
	classRepo := repository.NewClassRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	arrearsRepo := repository.NewArrearsRepository(db)

	validate := validator.New()

	metricsSvc := service.NewMetricsService()
	feeSvc := service.NewFeeService(feeRepo, paymentRepo, classRepo, validate, logr)
	ledgerSvc := service.NewLedgerService(balanceRepo, termRepo, studentRepo, feeSvc, cacheRepo, cfg.Billing, cfg.Cache, logr)
	reconcilerSvc := service.NewReconciliationService(ledgerSvc, balanceRepo, termRepo, studentRepo, movementRepo, metricsSvc, cfg.Billing, cfg.Sweep, logr)
	termSvc := service.NewTermService(termRepo, feeRepo, reconcilerSvc, cfg.Billing, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, termRepo, studentRepo, balanceRepo, ledgerSvc, reconcilerSvc, metricsSvc, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, classRepo, termRepo, balanceRepo, movementRepo, ledgerSvc, metricsSvc, validate, logr)
	arrearsSvc := service.NewArrearsService(arrearsRepo, balanceRepo, termRepo, ledgerSvc, reconcilerSvc, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repairQueue := jobs.NewQueue("reconciliation-repair", func(ctx context.Context, job jobs.Job) error {
		termID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		report, err := reconcilerSvc.RepairSweep(ctx, termID)
		if err != nil {
			return err
		}
		logr.Sugar().Infow("repair sweep finished",
			"job_id", job.ID, "term_id", termID,
			"examined", report.Examined, "repaired", report.Repaired, "failed", report.Failed)
		return nil
	}, jobs.QueueConfig{
		Workers:    cfg.Sweep.Workers,
		MaxRetries: cfg.Sweep.MaxRetries,
		RetryDelay: cfg.Sweep.RetryDelay,
		Logger:     logr,
	})
	repairQueue.Start(ctx)
	defer repairQueue.Stop()

	termHandler := handler.NewTermHandler(termSvc)
	feeHandler := handler.NewFeeHandler(feeSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	balanceHandler := handler.NewBalanceHandler(ledgerSvc, termSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	arrearsHandler := handler.NewArrearsHandler(arrearsSvc)
	adminHandler := handler.NewAdminHandler(reconcilerSvc, repairQueue)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/terms", termHandler.List)
		api.POST("/terms", termHandler.Create)
		api.GET("/terms/current", termHandler.Current)
		api.GET("/terms/:id", termHandler.Get)
		api.POST("/terms/:id/activate", termHandler.Activate)

		api.PUT("/fees/schedule", feeHandler.SetSchedule)
		api.GET("/fees/schedule/:termId", feeHandler.ListSchedule)
		api.PUT("/fees/class", feeHandler.SetClassFee)

		api.GET("/students", studentHandler.List)
		api.POST("/students", studentHandler.Enroll)
		api.GET("/students/:id", studentHandler.Get)
		api.DELETE("/students/:id", studentHandler.Delete)
		api.POST("/students/:id/status", studentHandler.Transition)
		api.POST("/students/:id/archive", studentHandler.Archive)
		api.GET("/students/:id/movements", studentHandler.Movements)
		api.GET("/students/:id/balance", balanceHandler.Get)
		api.GET("/students/:id/outstanding", balanceHandler.Outstanding)
		api.GET("/students/:id/arrears", arrearsHandler.History)
		api.GET("/students/:id/payments", paymentHandler.ListByStudent)

		api.GET("/payments", paymentHandler.List)
		api.POST("/payments", paymentHandler.Record)
		api.DELETE("/payments/:id", paymentHandler.Delete)

		api.POST("/arrears/import", arrearsHandler.Import)

		api.POST("/admin/reconciliation/repair", adminHandler.RepairSweep)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
