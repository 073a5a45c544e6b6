package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/response"
)

type reportService interface {
	ExportMonthlyLedger(ctx context.Context, teacherID, month, format string, actor models.JWTClaims) (*dto.LedgerReportResponse, error)
	OpenDownload(token string) (*os.File, string, error)
}

// ReportHandler exposes ledger export and signed download endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Export godoc
// @Summary Export a teacher's monthly ledger
// @Tags Reports
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param month query string true "Month (YYYY-MM)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/reports/ledger [get]
func (h *ReportHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.service.ExportMonthlyLedger(
		c.Request.Context(),
		c.Param("teacherId"),
		c.Query("month"),
		c.DefaultQuery("format", "csv"),
		*claims,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Download godoc
// @Summary Download an exported report via signed token
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /reports/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}
	file, name, err := h.service.OpenDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}
