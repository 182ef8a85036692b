package batch

import (
	"time"

	"translator-backend/internal/document"
)

// Status is the normalized lifecycle of a backend batch.
type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusValidating Status = "validating"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// State tracks one submitted batch. TranslatedUnits is populated only once
// Status is completed.
type State struct {
	BatchID         string                    `json:"batchId"`
	JobID           string                    `json:"jobId,omitempty"`
	InputFileID     string                    `json:"inputFileId,omitempty"`
	OutputFileID    string                    `json:"outputFileId,omitempty"`
	InputUnits      []document.Unit           `json:"inputUnits"`
	TranslatedUnits []document.TranslatedUnit `json:"translatedUnits,omitempty"`
	Status          Status                    `json:"batchStatus"`
	Progress        *int                      `json:"progress,omitempty"`
	Skipped         int                       `json:"skipped,omitempty"`
	CreatedAt       time.Time                 `json:"createdAt"`
	CompletedAt     *time.Time                `json:"completedAt,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

// setStatus moves the state to status and keeps the translated units
// invariant.
func (s *State) setStatus(status Status) {
	s.Status = status
	if status != StatusCompleted {
		s.TranslatedUnits = nil
	}
}

// mapStatus normalizes provider status strings.
func mapStatus(remote string) Status {
	switch remote {
	case "validating":
		return StatusValidating
	case "in_progress", "finalizing":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "failed", "expired", "cancelled", "cancelling":
		return StatusFailed
	default:
		return StatusInProgress
	}
}

// progressEstimate is floor(completed/total*100), or nil without counts.
func progressEstimate(total, completed int) *int {
	if total <= 0 {
		return nil
	}
	p := min(max(completed, 0)*100/total, 100)
	return &p
}
