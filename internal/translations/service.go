package translations

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"translator-backend/internal/document"
	"translator-backend/internal/shared/storage/object"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/shared/util"
)

const (
	maxStyleLength     = 200
	defaultDownloadTTL = 15 * time.Minute
)

var languagePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// Starter begins processing a pending job in the current process.
type Starter interface {
	Start(ctx context.Context, jobID string) error
}

// JobQueue hands pending jobs to a worker process.
type JobQueue interface {
	EnqueueJob(ctx context.Context, jobID, requestID string) error
}

// Service contains the business logic behind the translation API.
type Service struct {
	Repo        Repo
	Store       object.ObjectStore
	Queue       JobQueue
	Starter     Starter
	DefaultMode string
	DownloadTTL time.Duration
	Polls       *PollLimiter
	Now         func() time.Time
}

// CreateInput is an uploaded document plus translation settings.
type CreateInput struct {
	UserID         string
	FileName       string
	MimeType       string
	Data           []byte
	SourceLanguage string
	TargetLanguage string
	Style          string
	Mode           string
}

// View is a job as reported to clients.
type View struct {
	Job
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	DownloadReady       bool       `json:"downloadReady"`
}

// Create validates the upload, stores the source document and dispatches a
// pending job to the queue, or to the in-process starter when no queue is
// configured.
func (s *Service) Create(ctx context.Context, in CreateInput) (Job, error) {
	if s.Queue == nil && s.Starter == nil {
		return Job{}, ErrJobQueueUnavailable
	}
	if strings.TrimSpace(in.UserID) == "" {
		return Job{}, errors.Wrap(ErrInvalidInput, "user id is required")
	}
	source, target, style, err := normalizeLanguages(in.SourceLanguage, in.TargetLanguage, in.Style)
	if err != nil {
		return Job{}, err
	}
	mode, err := s.resolveMode(in.Mode)
	if err != nil {
		return Job{}, err
	}
	if len(in.Data) == 0 {
		return Job{}, errors.Wrap(ErrInvalidInput, "file is empty")
	}
	name, err := util.SanitizeFileName(in.FileName)
	if err != nil {
		return Job{}, errors.Wrap(ErrInvalidInput, err.Error())
	}
	mimeType := document.DetectMimeType(in.MimeType, name, in.Data)
	if mimeType == "" {
		return Job{}, errors.Wrap(ErrInvalidInput, "only EPUB and PDF documents are supported")
	}

	key, _, _, err := s.Store.Save(ctx, in.UserID, name, bytes.NewReader(in.Data))
	if err != nil {
		return Job{}, errors.Wrap(err, "store source document")
	}

	now := s.now()
	job := Job{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		Status:         StatusPending,
		Mode:           mode,
		SourceLanguage: source,
		TargetLanguage: target,
		Style:          style,
		SourceKey:      key,
		SourceFileName: name,
		SourceMimeType: mimeType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.Create(ctx, job); err != nil {
		return Job{}, err
	}
	telemetry.Info("job.created", map[string]any{
		"request_id": RequestIDFromContext(ctx),
		"job_id":     job.ID,
		"user_id":    job.UserID,
		"mode":       job.Mode,
		"mime_type":  job.SourceMimeType,
		"bytes":      len(in.Data),
	})

	if s.Queue != nil {
		if err := s.Queue.EnqueueJob(ctx, job.ID, RequestIDFromContext(ctx)); err != nil {
			msg := SanitizeError(errors.Wrap(err, "enqueue job"))
			failed := StatusFailed
			if _, uerr := s.Repo.Update(ctx, job.ID, Update{Status: &failed, Error: &msg}); uerr != nil {
				telemetry.Error("job.enqueue.mark_failed", map[string]any{"job_id": job.ID, "error": uerr.Error()})
			}
			return Job{}, errors.Wrap(err, "enqueue job")
		}
		return job, nil
	}

	go func(ctx context.Context, jobID string) {
		if err := s.Starter.Start(ctx, jobID); err != nil {
			telemetry.Error("job.start.failed", map[string]any{"job_id": jobID, "error": err.Error()})
		}
	}(DetachedContext(ctx), job.ID)
	return job, nil
}

// Get returns the caller's job with its estimated completion time. Reads
// faster than the poll limiter allows are rejected before the repo is hit.
func (s *Service) Get(ctx context.Context, userID, jobID string) (View, error) {
	if ok, wait := s.Polls.Allow(userID, jobID); !ok {
		return View{}, &PollTooSoonError{RetryAfter: wait}
	}
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return View{}, err
	}
	return View{
		Job:                 job,
		EstimatedCompletion: ETA(job, s.now()),
		DownloadReady:       job.Status == StatusCompleted && job.ArtifactKey != "",
	}, nil
}

// List returns the caller's jobs, newest first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrInvalidInput, "user id is required")
	}
	return s.Repo.ListByUser(ctx, userID, limit, offset)
}

// DownloadURL returns a time-limited link to the translated document. Jobs
// that have not completed return ErrNotReady.
func (s *Service) DownloadURL(ctx context.Context, userID, jobID string) (string, time.Time, error) {
	job, err := s.owned(ctx, userID, jobID)
	if err != nil {
		return "", time.Time{}, err
	}
	if job.Status != StatusCompleted || job.ArtifactKey == "" {
		return "", time.Time{}, ErrNotReady
	}
	ttl := s.DownloadTTL
	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	url, err := s.Store.DownloadURL(ctx, job.ArtifactKey, ttl)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign download url")
	}
	return url, s.now().Add(ttl), nil
}

func (s *Service) owned(ctx context.Context, userID, jobID string) (Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return Job{}, errors.Wrap(ErrInvalidInput, "job id is required")
	}
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.UserID != userID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *Service) resolveMode(mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(s.DefaultMode))
	}
	switch mode {
	case "":
		return ModeBatch, nil
	case ModeBatch, ModeDirect:
		return mode, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unknown mode %q", mode)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeLanguages(source, target, style string) (string, string, string, error) {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)
	style = strings.TrimSpace(style)
	if source == "" || strings.EqualFold(source, "auto") {
		source = "auto"
	} else if !languagePattern.MatchString(source) {
		return "", "", "", errors.Wrapf(ErrInvalidInput, "invalid source language %q", source)
	}
	if target == "" {
		return "", "", "", errors.Wrap(ErrInvalidInput, "target language is required")
	}
	if !languagePattern.MatchString(target) {
		return "", "", "", errors.Wrapf(ErrInvalidInput, "invalid target language %q", target)
	}
	if strings.EqualFold(source, target) {
		return "", "", "", errors.Wrap(ErrInvalidInput, "source and target language are the same")
	}
	if len(style) > maxStyleLength {
		return "", "", "", errors.Wrapf(ErrInvalidInput, "style must be at most %d characters", maxStyleLength)
	}
	return source, target, style, nil
}
