package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/attendance-core-api/api/swagger"
	"github.com/noah-isme/attendance-core-api/internal/handler"
	"github.com/noah-isme/attendance-core-api/internal/middleware"
	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/repository"
	"github.com/noah-isme/attendance-core-api/internal/service"
	"github.com/noah-isme/attendance-core-api/pkg/cache"
	"github.com/noah-isme/attendance-core-api/pkg/config"
	"github.com/noah-isme/attendance-core-api/pkg/database"
	"github.com/noah-isme/attendance-core-api/pkg/jobs"
	"github.com/noah-isme/attendance-core-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/attendance-core-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/attendance-core-api/pkg/middleware/requestid"
	"github.com/noah-isme/attendance-core-api/pkg/storage"
)

// @title Attendance Core API
// @version 0.1.0
// @description Attendance state reconciliation service for daily check-ins
// @BasePath /api/v1
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
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The service degrades to uncached reads without Redis.
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}

	// Repositories.
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	reportRepo := repository.NewReportRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	// Services share one validator so custom validations register once.
	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, validate, logr, cfg.JWT)
	policySvc := service.NewPolicyService(policyRepo, cacheRepo, userRepo, validate, logr, cfg.Policy, cfg.Cache.PolicyTTL)
	holidaySvc := service.NewHolidayService(holidayRepo, cacheRepo, userRepo, validate, logr, cfg.Holidays)
	checkInSvc := service.NewCheckInService(attendanceRepo, studentRepo, holidaySvc, policySvc, validate, logr)
	reportSvc := service.NewReportService(reportRepo, studentRepo, policySvc, userRepo, validate, logr)
	reconciliationSvc := service.NewReconciliationService(attendanceRepo, cacheRepo, logr, cfg.Cache.SummaryTTL)
	studentSvc := service.NewStudentService(studentRepo, logr)
	metricsSvc := service.NewMetricsService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var exportJobSvc *service.ExportJobService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc := service.NewExportService(attendanceRepo, store, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr, nil, nil)
		worker := service.NewExportWorker(exportJobRepo, exportSvc, cfg.Exports.WorkerRetries, logr)
		queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		exportJobSvc = service.NewExportJobService(exportJobRepo, queue, exportSvc, logr, service.ExportJobConfig{
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		})
		exportJobSvc.RecoverPendingJobs(ctx)
		exportJobSvc.StartCleanup(ctx)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	policyHandler := handler.NewPolicyHandler(policySvc)
	checkInHandler := handler.NewCheckInHandler(checkInSvc, metricsSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
	reconciliationHandler := handler.NewReconciliationHandler(reconciliationSvc)
	holidayHandler := handler.NewHolidayHandler(holidaySvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
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

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		exportHandler = handler.NewExportHandler(exportJobSvc)
		// Download authorization is the signed token itself.
		api.GET("/export/:token", exportHandler.Download)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/auth/me", authHandler.Me)

		protected.POST("/checkins",
			middleware.RequireRoles(models.RoleDevice, models.RoleAdmin, models.RoleTeacher),
			checkInHandler.Record)

		protected.GET("/attendance",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			checkInHandler.List)
		protected.GET("/attendance/students/:id", checkInHandler.StudentHistory)
		protected.POST("/attendance/corrections",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionCorrection, "attendance_record"),
			reportHandler.Correct)

		protected.GET("/policies/active", policyHandler.GetActive)
		protected.PUT("/policies",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionPolicyUpdate, "attendance_policy"),
			policyHandler.Set)
		protected.GET("/policies/history",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			policyHandler.History)

		protected.POST("/reports", reportHandler.Submit)
		protected.GET("/reports", reportHandler.List)
		protected.GET("/reports/:id", reportHandler.GetByID)
		protected.POST("/reports/:id/process",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			middleware.Audit(userRepo, models.AuditActionReportProcess, "exception_report"),
			reportHandler.Process)

		protected.GET("/reconciliation/unresolved",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			reconciliationHandler.Unresolved)
		protected.GET("/reconciliation/summary",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			reconciliationHandler.Summary)

		protected.GET("/holidays/check", holidayHandler.Check)
		protected.GET("/holidays", holidayHandler.List)
		protected.POST("/holidays",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionHolidayChange, "holiday"),
			holidayHandler.Create)
		protected.PUT("/holidays/:id",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionHolidayChange, "holiday"),
			holidayHandler.Update)

		protected.GET("/students",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			studentHandler.List)
		protected.GET("/students/:id",
			middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
			studentHandler.GetByID)
		protected.GET("/students/cards/:card_id",
			middleware.RequireRoles(models.RoleAdmin, models.RoleDevice),
			studentHandler.ResolveCard)

		if cfg.Exports.Enabled {
			protected.POST("/exports",
				middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
				exportHandler.Create)
			protected.GET("/exports/:id",
				middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
				exportHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
