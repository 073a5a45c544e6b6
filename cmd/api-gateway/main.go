package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/teacher-activity-api/api/swagger"
	"github.com/noah-isme/teacher-activity-api/internal/handler"
	"github.com/noah-isme/teacher-activity-api/internal/middleware"
	"github.com/noah-isme/teacher-activity-api/internal/repository"
	"github.com/noah-isme/teacher-activity-api/internal/service"
	"github.com/noah-isme/teacher-activity-api/pkg/cache"
	"github.com/noah-isme/teacher-activity-api/pkg/config"
	"github.com/noah-isme/teacher-activity-api/pkg/database"
	"github.com/noah-isme/teacher-activity-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/teacher-activity-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/teacher-activity-api/pkg/middleware/requestid"
	"github.com/noah-isme/teacher-activity-api/pkg/storage"
)

// @title Teacher Activity API
// @version 1.0.0
// @description Approval-gated teacher activity tracking
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
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The pending-queue cache is an optimization; the API serves
		// everything from Postgres without it.
		logr.Sugar().Warnw("redis unavailable, pending queue cache disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("report storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	ledgerRepo := repository.NewLedgerRepository(db)
	unitLogRepo := repository.NewUnitLogRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()
	queueCache := service.NewApprovalQueueCache(redisClient, cfg.Approvals.PendingCacheTTL, metricsSvc, logr)

	ledgerSvc := service.NewLedgerService(ledgerRepo, approvalRepo, auditRepo, queueCache, logr)
	unitSvc := service.NewUnitService(unitLogRepo, subjectRepo, auditRepo, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, subjectRepo, approvalRepo, auditRepo, queueCache, logr)
	approvalSvc := service.NewApprovalService(approvalRepo, auditRepo, logr,
		service.WithApprovalAppliers(service.NewApprovalAppliers(ledgerSvc, unitSvc, assignmentSvc)),
		service.WithApprovalQueueCache(queueCache),
		service.WithApprovalMetrics(metricsSvc),
	)
	downloadPath := cfg.APIPrefix + "/reports/download"
	reportSvc := service.NewReportService(ledgerRepo, store, signer, downloadPath, logr)

	handlers := handler.Set{
		Ledgers:     handler.NewLedgerHandler(ledgerSvc),
		Units:       handler.NewUnitHandler(unitSvc, cfg.Approvals.GateUnitActions),
		Approvals:   handler.NewApprovalHandler(approvalSvc),
		Assignments: handler.NewAssignmentHandler(assignmentSvc),
		Reports:     handler.NewReportHandler(reportSvc),
	}

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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Register(r, cfg.APIPrefix, cfg.JWT.Secret, handlers, metricsSvc)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
