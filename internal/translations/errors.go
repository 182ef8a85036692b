package translations

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotReady            = errors.New("translation not completed")
	ErrJobQueueUnavailable = errors.New("job queue not configured")
)

// SubmissionError means the batch backend rejected a submission. Callers fall
// back to direct translation.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return "batch submission failed: " + errString(e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is a transient failure while checking batch status. The job stays
// in its current state and is polled again.
type PollError struct {
	BatchID string
	Err     error
}

func (e *PollError) Error() string {
	return "poll batch " + e.BatchID + ": " + errString(e.Err)
}
func (e *PollError) Unwrap() error { return e.Err }

// ResultParseError describes one unusable result line. It never fails a job.
type ResultParseError struct {
	BatchID  string
	Line     int
	CustomID string
	Err      error
}

func (e *ResultParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse batch result")
	if e.BatchID != "" {
		b.WriteString(" batch=" + e.BatchID)
	}
	if e.CustomID != "" {
		b.WriteString(" unit=" + e.CustomID)
	}
	b.WriteString(": " + errString(e.Err))
	return b.String()
}
func (e *ResultParseError) Unwrap() error { return e.Err }

// BackendJobFailure is a terminal failure reported by the batch backend.
type BackendJobFailure struct {
	BatchID string
	Reason  string
}

func (e *BackendJobFailure) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason given"
	}
	return "batch " + e.BatchID + " failed: " + reason
}

// ReconstructionError means translated units could not be reassembled or stored.
type ReconstructionError struct {
	Err error
}

func (e *ReconstructionError) Error() string { return "reconstruct document: " + errString(e.Err) }
func (e *ReconstructionError) Unwrap() error { return e.Err }

// ExtractionError means no translatable units could be read from the source.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extract units: " + errString(e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// PollTooSoonError rejects a status read that came inside the poll window.
type PollTooSoonError struct {
	RetryAfter time.Duration
}

func (e *PollTooSoonError) Error() string {
	return "status polled too often, retry in " + e.RetryAfter.String()
}

// IsTransient reports whether err should leave the job in place for a retry.
func IsTransient(err error) bool {
	var pollErr *PollError
	return errors.As(err, &pollErr)
}

// SanitizeError turns err into a single-line message suitable for the job record.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
