package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/response"
)

type assignmentService interface {
	Request(ctx context.Context, req dto.CreateAssignmentRequest, actor models.JWTClaims) (*models.SubjectAssignment, error)
	Get(ctx context.Context, id string, actor models.JWTClaims) (*models.SubjectAssignment, error)
	List(ctx context.Context, filter models.AssignmentFilter, actor models.JWTClaims) ([]models.SubjectAssignment, error)
	AdminDecide(ctx context.Context, id string, req dto.AssignmentDecisionRequest, actor models.JWTClaims) (*models.SubjectAssignment, error)
	RecipientDecide(ctx context.Context, id string, req dto.AssignmentDecisionRequest, actor models.JWTClaims) (*models.SubjectAssignment, error)
}

// AssignmentHandler exposes REST endpoints for subject transfers.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// Create godoc
// @Summary Request a subject transfer
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Transfer payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transfer payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.service.Request(c.Request.Context(), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// List godoc
// @Summary List subject transfers
// @Tags Assignments
// @Produce json
// @Param subject_id query string false "Subject ID"
// @Param status query string false "Comma separated statuses"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit, offset := parseListWindow(c)
	filter := models.AssignmentFilter{
		SubjectID: c.Query("subject_id"),
		Limit:     limit,
		Offset:    offset,
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.AssignmentStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.AssignmentStatus(part))
		}
		filter.Status = statuses
	}
	assignments, err := h.service.List(c.Request.Context(), filter, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}

// Get godoc
// @Summary Get subject transfer detail
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.service.Get(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// AdminDecide godoc
// @Summary Record the admin-stage transfer decision
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.AssignmentDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/admin-decision [post]
func (h *AssignmentHandler) AdminDecide(c *gin.Context) {
	var req dto.AssignmentDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.service.AdminDecide(c.Request.Context(), c.Param("id"), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// RecipientDecide godoc
// @Summary Record the recipient-stage transfer decision
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.AssignmentDecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/recipient-decision [post]
func (h *AssignmentHandler) RecipientDecide(c *gin.Context) {
	var req dto.AssignmentDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	assignment, err := h.service.RecipientDecide(c.Request.Context(), c.Param("id"), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}
