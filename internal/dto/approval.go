package dto

import (
	"encoding/json"

	"github.com/noah-isme/teacher-activity-api/internal/models"
)

// SubmitApprovalRequest payload for entering an action into the review queue.
type SubmitApprovalRequest struct {
	Type    models.ApprovalType `json:"type"`
	Payload json.RawMessage     `json:"payload"`
}

// DecideApprovalRequest captures a reviewer decision and optional reason.
type DecideApprovalRequest struct {
	Status models.ApprovalStatus `json:"status"`
	Reason string                `json:"reason"`
}

// ApprovalQuery mirrors supported listing filters.
type ApprovalQuery struct {
	Status []models.ApprovalStatus
	Type   models.ApprovalType
}
