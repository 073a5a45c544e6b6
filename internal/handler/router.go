package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teacher-activity-api/internal/middleware"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	"github.com/noah-isme/teacher-activity-api/internal/service"
)

// Set groups every HTTP handler for route registration.
type Set struct {
	Ledgers     *LedgerHandler
	Units       *UnitHandler
	Approvals   *ApprovalHandler
	Assignments *AssignmentHandler
	Reports     *ReportHandler
}

// Register mounts all routes under the API prefix. The download route is
// deliberately outside JWT: the signed token is its only credential.
func Register(r *gin.Engine, apiPrefix, jwtSecret string, handlers Set, metrics *service.MetricsService) {
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group(apiPrefix)
	api.GET("/reports/download", handlers.Reports.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(jwtSecret))

	ledgers := authed.Group("/teachers/:teacherId/ledgers/:date")
	ledgers.GET("", middleware.RBAC("SELF", string(models.RoleVerifier), string(models.RoleAdmin)), handlers.Ledgers.Get)
	ledgers.DELETE("/slots/:slotId", middleware.RBAC("SELF", string(models.RoleAdmin)), handlers.Ledgers.DeselectSlot)
	ledgers.DELETE("/break", middleware.RBAC("SELF", string(models.RoleAdmin)), handlers.Ledgers.RemoveBreak)
	ledgers.PUT("/schedule", middleware.RequireRoles(models.RoleAdmin), handlers.Ledgers.ImportSchedule)

	authed.POST("/units/:unitId/start", handlers.Units.Start)
	authed.POST("/units/:unitId/complete", handlers.Units.Complete)
	authed.GET("/unit-logs", handlers.Units.List)

	approvals := authed.Group("/approvals")
	approvals.POST("", handlers.Approvals.Submit)
	approvals.GET("", handlers.Approvals.List)
	approvals.GET("/:id", handlers.Approvals.Get)
	approvals.POST("/:id/cancel", handlers.Approvals.Cancel)
	approvals.POST("/:id/decision", middleware.RequireRoles(models.RoleVerifier, models.RoleAdmin), handlers.Approvals.Decide)

	assignments := authed.Group("/assignments")
	assignments.POST("", middleware.RequireRoles(models.RoleAdmin), handlers.Assignments.Create)
	assignments.GET("", handlers.Assignments.List)
	assignments.GET("/:id", handlers.Assignments.Get)
	assignments.POST("/:id/admin-decision", middleware.RequireRoles(models.RoleVerifier, models.RoleAdmin), handlers.Assignments.AdminDecide)
	assignments.POST("/:id/recipient-decision", handlers.Assignments.RecipientDecide)

	authed.GET("/teachers/:teacherId/reports/ledger",
		middleware.RBAC("SELF", string(models.RoleVerifier), string(models.RoleAdmin)),
		handlers.Reports.Export)
}
