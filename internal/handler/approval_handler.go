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

type approvalService interface {
	Submit(ctx context.Context, req dto.SubmitApprovalRequest, actor models.JWTClaims) (*models.ApprovalRequest, bool, error)
	Get(ctx context.Context, id string, actor models.JWTClaims) (*models.ApprovalRequest, error)
	List(ctx context.Context, query dto.ApprovalQuery, limit, offset int, actor models.JWTClaims) ([]models.ApprovalRequest, error)
	Cancel(ctx context.Context, id string, actor models.JWTClaims) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, id string, req dto.DecideApprovalRequest, actor models.JWTClaims) (*models.ApprovalRequest, error)
}

// ApprovalHandler exposes REST endpoints for the review queue.
type ApprovalHandler struct {
	service approvalService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(service approvalService) *ApprovalHandler {
	return &ApprovalHandler{service: service}
}

// Submit godoc
// @Summary Submit an action for review
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApprovalRequest true "Approval payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "An identical request was already pending"
// @Router /approvals [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	var req dto.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	envelope, created, err := h.service.Submit(c.Request.Context(), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(c, status, envelope, nil)
}

// List godoc
// @Summary List approval requests
// @Tags Approvals
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Approval type"
// @Success 200 {object} response.Envelope
// @Router /approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ApprovalQuery{}
	if rawType := c.Query("type"); rawType != "" {
		query.Type = models.ApprovalType(strings.ToUpper(rawType))
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.ApprovalStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.ApprovalStatus(part))
		}
		query.Status = statuses
	}
	limit, offset := parseListWindow(c)
	requests, err := h.service.List(c.Request.Context(), query, limit, offset, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get approval request detail
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval request ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	envelope, err := h.service.Get(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, envelope, nil)
}

// Cancel godoc
// @Summary Cancel a pending request
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval request ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/cancel [post]
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	envelope, err := h.service.Cancel(c.Request.Context(), c.Param("id"), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, envelope, nil)
}

// Decide godoc
// @Summary Approve or reject a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval request ID"
// @Param payload body dto.DecideApprovalRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req dto.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	envelope, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, *claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, envelope, nil)
}
