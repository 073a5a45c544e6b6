package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/response"
)

type unitService interface {
	Start(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error)
	Complete(ctx context.Context, unitID, teacherID string) (*models.UnitLog, error)
	List(ctx context.Context, filter models.UnitLogFilter) ([]models.UnitLogDetail, error)
}

// UnitHandler exposes REST endpoints for the unit lifecycle. When
// gateActions is set, start and complete refuse direct calls and must go
// through the review queue instead.
type UnitHandler struct {
	service     unitService
	gateActions bool
}

// NewUnitHandler constructs the handler.
func NewUnitHandler(service unitService, gateActions bool) *UnitHandler {
	return &UnitHandler{service: service, gateActions: gateActions}
}

// Start godoc
// @Summary Start a curriculum unit
// @Tags Units
// @Produce json
// @Param unitId path string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Router /units/{unitId}/start [post]
func (h *UnitHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.gateActions {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "unit actions require review approval, submit an approval request"))
		return
	}
	teacherID, err := h.resolveTeacher(c, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	log, err := h.service.Start(c.Request.Context(), c.Param("unitId"), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, log, nil)
}

// Complete godoc
// @Summary Complete an in-progress unit
// @Tags Units
// @Produce json
// @Param unitId path string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Router /units/{unitId}/complete [post]
func (h *UnitHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if h.gateActions {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "unit actions require review approval, submit an approval request"))
		return
	}
	teacherID, err := h.resolveTeacher(c, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	log, err := h.service.Complete(c.Request.Context(), c.Param("unitId"), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, log, nil)
}

// List godoc
// @Summary List unit logs
// @Tags Units
// @Produce json
// @Param teacher_id query string false "Teacher ID (reviewers only)"
// @Param subject_id query string false "Subject ID"
// @Param status query string false "Unit status"
// @Success 200 {object} response.Envelope
// @Router /unit-logs [get]
func (h *UnitHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit, offset := parseListWindow(c)
	filter := models.UnitLogFilter{
		TeacherID: c.Query("teacher_id"),
		SubjectID: c.Query("subject_id"),
		Limit:     limit,
		Offset:    offset,
	}
	if claims.Role == models.RoleTeacher {
		filter.TeacherID = claims.UserID
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		status := models.UnitStatus(strings.ToUpper(rawStatus))
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid unit status"))
			return
		}
		filter.Status = &status
	}
	logs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// resolveTeacher picks the teacher the action applies to. Reviewers may act
// on behalf of a teacher via the teacher_id query parameter; teachers always
// act as themselves.
func (h *UnitHandler) resolveTeacher(c *gin.Context, claims *models.JWTClaims) (string, error) {
	if claims.Role == models.RoleTeacher {
		return claims.UserID, nil
	}
	if target := c.Query("teacher_id"); target != "" {
		return target, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "teacher_id query parameter is required for reviewer calls")
}
