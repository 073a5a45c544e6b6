package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/response"
)

type ledgerService interface {
	Get(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error)
	DeselectSlot(ctx context.Context, teacherID string, date time.Time, slotID string) (*models.TimeSlotLedger, error)
	RemoveBreak(ctx context.Context, teacherID string, date time.Time) (*models.TimeSlotLedger, error)
	ImportSchedule(ctx context.Context, teacherID string, date time.Time, req dto.ImportScheduleRequest, actorID string) (*models.TimeSlotLedger, error)
}

// LedgerHandler exposes REST endpoints for daily time-slot ledgers.
// Slot selections and break changes go through the approval endpoints;
// only removals are served here directly.
type LedgerHandler struct {
	service ledgerService
}

// NewLedgerHandler constructs the handler.
func NewLedgerHandler(service ledgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

// Get godoc
// @Summary Get a teacher's daily ledger
// @Tags Ledgers
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/ledgers/{date} [get]
func (h *LedgerHandler) Get(c *gin.Context) {
	date, err := parseLedgerDate(c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	ledger, err := h.service.Get(c.Request.Context(), c.Param("teacherId"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// DeselectSlot godoc
// @Summary Deselect a credited slot immediately
// @Tags Ledgers
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param slotId path string true "Slot ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/ledgers/{date}/slots/{slotId} [delete]
func (h *LedgerHandler) DeselectSlot(c *gin.Context) {
	date, err := parseLedgerDate(c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	ledger, err := h.service.DeselectSlot(c.Request.Context(), c.Param("teacherId"), date, c.Param("slotId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// RemoveBreak godoc
// @Summary Remove the break window immediately
// @Tags Ledgers
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/ledgers/{date}/break [delete]
func (h *LedgerHandler) RemoveBreak(c *gin.Context) {
	date, err := parseLedgerDate(c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	ledger, err := h.service.RemoveBreak(c.Request.Context(), c.Param("teacherId"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}

// ImportSchedule godoc
// @Summary Import the supervisor timetable overlay for one day
// @Tags Ledgers
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param date path string true "Date (YYYY-MM-DD)"
// @Param payload body dto.ImportScheduleRequest true "Schedule overlay"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/ledgers/{date}/schedule [put]
func (h *LedgerHandler) ImportSchedule(c *gin.Context) {
	date, err := parseLedgerDate(c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ImportScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid schedule payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ledger, err := h.service.ImportSchedule(c.Request.Context(), c.Param("teacherId"), date, req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ledger, nil)
}
