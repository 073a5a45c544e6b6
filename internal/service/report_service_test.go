package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teacher-activity-api/internal/models"
	appErrors "github.com/noah-isme/teacher-activity-api/pkg/errors"
	"github.com/noah-isme/teacher-activity-api/pkg/storage"
)

type reportLedgerStub struct {
	ledgers []models.TimeSlotLedger
}

func (s *reportLedgerStub) ListByTeacherRange(ctx context.Context, teacherID string, from, to time.Time) ([]models.TimeSlotLedger, error) {
	return s.ledgers, nil
}

func newReportFixture(t *testing.T) *ReportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ledger := models.NewTimeSlotLedger("teacher-1", day)
	now := time.Now().UTC()
	for _, slotID := range []string{"slot-07-08", "slot-08-09", "slot-09-10"} {
		slot := ledger.Slot(slotID)
		slot.Checked = true
		slot.CheckedAt = &now
	}
	ledger.BreakDuration = 30
	ledger.BreakChecked = true
	ledger.RecomputeTotalHours()

	ledgers := &reportLedgerStub{ledgers: []models.TimeSlotLedger{*ledger}}
	return NewReportService(ledgers, store, signer, "/api/v1/reports/download", nil)
}

func TestReportServiceExportAndDownloadCSV(t *testing.T) {
	svc := newReportFixture(t)

	resp, err := svc.ExportMonthlyLedger(context.Background(), "teacher-1", "2026-03", "csv", teacherActor)
	require.NoError(t, err)
	require.Equal(t, "csv", resp.Format)
	require.True(t, resp.ExpiresAt.After(time.Now()))
	require.Contains(t, resp.URL, "/api/v1/reports/download?token=")

	token := strings.TrimPrefix(resp.URL, "/api/v1/reports/download?token=")
	file, filename, err := svc.OpenDownload(token)
	require.NoError(t, err)
	defer file.Close()
	require.Contains(t, filename, "2026-03")

	content, err := io.ReadAll(file)
	require.NoError(t, err)
	body := string(content)
	require.Contains(t, body, "Date,Slots Credited,Break Minutes,Total Hours")
	require.Contains(t, body, "2026-03-02,3,30,2.50")
	require.Contains(t, body, "TOTAL")
}

func TestReportServiceExportPDF(t *testing.T) {
	svc := newReportFixture(t)

	resp, err := svc.ExportMonthlyLedger(context.Background(), "teacher-1", "2026-03", "pdf", verifierActor)
	require.NoError(t, err)
	require.Equal(t, "pdf", resp.Format)

	token := strings.TrimPrefix(resp.URL, "/api/v1/reports/download?token=")
	file, _, err := svc.OpenDownload(token)
	require.NoError(t, err)
	defer file.Close()

	header := make([]byte, 4)
	_, err = io.ReadFull(file, header)
	require.NoError(t, err)
	require.Equal(t, "%PDF", string(header))
}

func TestReportServiceExportTeacherSelfOnly(t *testing.T) {
	svc := newReportFixture(t)

	_, err := svc.ExportMonthlyLedger(context.Background(), "teacher-2", "2026-03", "csv", teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestReportServiceExportValidatesInput(t *testing.T) {
	svc := newReportFixture(t)

	_, err := svc.ExportMonthlyLedger(context.Background(), "teacher-1", "March 2026", "csv", teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.ExportMonthlyLedger(context.Background(), "teacher-1", "2026-03", "xlsx", teacherActor)
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceDownloadRejectsBadToken(t *testing.T) {
	svc := newReportFixture(t)

	_, _, err := svc.OpenDownload("not-a-valid-token")
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
