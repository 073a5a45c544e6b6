package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/teacher-activity-api/internal/dto"
	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/export"
	"github.com/noah-isme/teacher-activity-api/pkg/storage"
)

type reportLedgerStore interface {
	ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.TimeSlotLedger, error)
}

const monthFormat = "2006-01"

// ReportService exports a teacher's monthly ledger synchronously and hands
// back a signed download URL. Files land on local disk; the token is the
// only way to reach them.
type ReportService struct {
	ledgers      reportLedgerStore
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	store        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	downloadPath string
	logger       *zap.Logger
}

// NewReportService constructs the service. downloadPath is the route that
// serves signed tokens, e.g. "/api/v1/reports/download".
func NewReportService(ledgers reportLedgerStore, store *storage.LocalStorage, signer *storage.SignedURLSigner, downloadPath string, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		ledgers:      ledgers,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		store:        store,
		signer:       signer,
		downloadPath: downloadPath,
		logger:       logger,
	}
}

// ExportMonthlyLedger renders the teacher's ledgers for one month. Teachers
// may only export their own month.
func (s *ReportService) ExportMonthlyLedger(ctx context.Context, teacherID, month, format string, actor models.JWTClaims) (*dto.LedgerReportResponse, error) {
	if actor.Role == models.RoleTeacher && teacherID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teachers may only export their own ledger")
	}
	start, err := time.Parse(monthFormat, month)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("month must be in %s format", monthFormat))
	}
	format = strings.ToLower(format)
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	end := start.AddDate(0, 1, -1)
	ledgers, err := s.ledgers.ListByTeacherRange(ctx, teacherID, start, end)
	if err != nil {
		return nil, err
	}

	data := buildLedgerDataset(ledgers)
	var blob []byte
	switch format {
	case "csv":
		blob, err = s.csv.Render(data)
	case "pdf":
		blob, err = s.pdf.Render(data, fmt.Sprintf("Activity Ledger %s", month))
	}
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	reportID := uuid.NewString()
	filename := filepath.Join("ledger", teacherID, fmt.Sprintf("%s-%s.%s", month, reportID, format))
	relPath, err := s.store.Save(filename, blob)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(reportID, relPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger report exported",
		zap.String("teacher_id", teacherID),
		zap.String("month", month),
		zap.String("format", format),
		zap.Int("days", len(ledgers)))

	return &dto.LedgerReportResponse{
		ReportID:  reportID,
		Format:    format,
		URL:       fmt.Sprintf("%s?token=%s", s.downloadPath, token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenDownload validates a signed token and opens the exported file. The
// caller owns closing the handle.
func (s *ReportService) OpenDownload(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report file no longer exists")
	}
	return file, filepath.Base(relPath), nil
}

func buildLedgerDataset(ledgers []models.TimeSlotLedger) export.Dataset {
	headers := []string{"Date", "Slots Credited", "Break Minutes", "Total Hours"}
	rows := make([]map[string]string, 0, len(ledgers)+1)
	totalMinutes := 0
	for _, ledger := range ledgers {
		credited := 0
		for _, slot := range ledger.Slots {
			if slot.Checked {
				credited++
			}
		}
		breakMinutes := 0
		if ledger.BreakChecked {
			breakMinutes = ledger.BreakDuration
		}
		totalMinutes += int(ledger.TotalHours * 60)
		rows = append(rows, map[string]string{
			"Date":           ledger.Date.Format(models.DateFormat),
			"Slots Credited": strconv.Itoa(credited),
			"Break Minutes":  strconv.Itoa(breakMinutes),
			"Total Hours":    strconv.FormatFloat(ledger.TotalHours, 'f', 2, 64),
		})
	}
	rows = append(rows, map[string]string{
		"Date":           "TOTAL",
		"Slots Credited": "",
		"Break Minutes":  "",
		"Total Hours":    strconv.FormatFloat(float64(totalMinutes)/60, 'f', 2, 64),
	})
	return export.Dataset{Headers: headers, Rows: rows}
}
