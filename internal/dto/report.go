package dto

import "time"

// LedgerReportResponse is returned after a synchronous report export.
type LedgerReportResponse struct {
	ReportID  string    `json:"report_id"`
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
