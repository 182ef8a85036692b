package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/document"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/storage/object"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

// load reads the job's source document and extracts its units. The format
// is chosen once from the stored MIME type. Problems with the document
// itself come back as *translations.ExtractionError; a failed read from the
// object store is returned untyped so callers can retry it.
func (o *Orchestrator) load(ctx context.Context, job translations.Job) (document.Format, []byte, []document.Unit, error) {
	if job.SourceKey == "" {
		return nil, nil, nil, &translations.ExtractionError{Err: errors.New("job has no source document")}
	}
	source, err := object.ReadAll(ctx, o.store, job.SourceKey)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "read source document")
	}
	format, err := o.formats(job.SourceMimeType, job.SourceFileName, source)
	if err != nil {
		return nil, nil, nil, &translations.ExtractionError{Err: err}
	}
	units, err := format.Extract(ctx, source)
	if err != nil {
		return nil, nil, nil, &translations.ExtractionError{Err: err}
	}
	return format, source, units, nil
}

func isExtractionError(err error) bool {
	var extractErr *translations.ExtractionError
	return errors.As(err, &extractErr)
}

// runDirect translates units one by one and then runs the shared tail.
// Cancellation leaves the job in translating so it can be resumed.
func (o *Orchestrator) runDirect(ctx context.Context, job translations.Job, format document.Format, source []byte, units []document.Unit) error {
	if !o.claimDirect(job.ID) {
		return nil
	}
	defer o.releaseDirect(job.ID)
	return o.translateDirect(ctx, job, format, source, units)
}

func (o *Orchestrator) translateDirect(ctx context.Context, job translations.Job, format document.Format, source []byte, units []document.Unit) error {
	if o.direct == nil {
		return o.fail(ctx, job.ID, errors.New("direct translation is not configured"))
	}
	mode := translations.ModeDirect
	job, err := o.transition(ctx, job, translations.StatusTranslating, translations.Update{
		Mode:     &mode,
		Progress: translations.Ptr(max(job.Progress, o.cfg.Progress.DirectStart)),
		Error:    translations.Ptr(""),
	})
	if err != nil {
		return err
	}

	translated, err := o.direct.Translate(ctx, job, units)
	if err != nil {
		if ctx.Err() != nil {
			telemetry.Info("orchestrator.direct.interrupted", map[string]any{"job_id": job.ID})
			return ctx.Err()
		}
		return o.fail(ctx, job.ID, err)
	}
	return o.finish(ctx, job.ID, format, source, translated)
}

// resumeDirect restarts an interrupted direct run in the background. It
// reports false when a run for the job is already active.
func (o *Orchestrator) resumeDirect(job translations.Job) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if _, busy := o.running[job.ID]; busy {
		o.mu.Unlock()
		return false
	}
	o.running[job.ID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.IncJobsResumed()
	telemetry.Info("orchestrator.resume.direct", map[string]any{"job_id": job.ID, "completed_units": job.CompletedUnits})
	go func() {
		defer o.wg.Done()
		// Runs after the claim and lock below are released.
		var retryErr error
		defer func() {
			if retryErr != nil {
				o.retryDirectLater(job, retryErr)
			}
		}()
		defer o.releaseDirect(job.ID)
		unlock := o.locks.lock(job.ID)
		defer unlock()

		ctx := o.baseCtx
		job, err := o.jobs.GetByID(ctx, job.ID)
		if err != nil || job.Status.IsTerminal() {
			return
		}
		format, source, units, err := o.load(ctx, job)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case isExtractionError(err):
				o.failLogged(ctx, job.ID, err)
			default:
				retryErr = err
			}
			return
		}
		if err := o.translateDirect(ctx, job, format, source, units); err != nil && ctx.Err() == nil {
			telemetry.Error("orchestrator.resume.direct_failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		}
	}()
	return true
}

// retryDirectLater tries an interrupted direct run again after the poll
// interval when its source document could not be read.
func (o *Orchestrator) retryDirectLater(job translations.Job, cause error) {
	telemetry.Warn("orchestrator.resume.direct_retry", map[string]any{
		"job_id":   job.ID,
		"error":    cause.Error(),
		"delay_ms": o.cfg.PollInterval.Milliseconds(),
	})
	o.sched.AfterFunc(o.cfg.PollInterval, func() { o.resumeDirect(job) })
}

func (o *Orchestrator) claimDirect(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[jobID]; busy {
		return false
	}
	o.running[jobID] = struct{}{}
	return true
}

func (o *Orchestrator) releaseDirect(jobID string) {
	o.mu.Lock()
	delete(o.running, jobID)
	o.mu.Unlock()
}

// finish reconstructs the document from translated units, stores the
// artifact and completes the job. Units missing from translated keep their
// original content.
func (o *Orchestrator) finish(ctx context.Context, jobID string, format document.Format, source []byte, translated []document.TranslatedUnit) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "load job %s", jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job, err = o.transition(ctx, job, translations.StatusReconstructing, translations.Update{
		Progress: translations.Ptr(max(job.Progress, o.cfg.Progress.Reconstructing)),
	})
	if err != nil {
		return err
	}

	output, err := format.Reconstruct(ctx, source, translated)
	if err != nil {
		return o.fail(ctx, jobID, &translations.ReconstructionError{Err: err})
	}
	name := format.OutputFileName(job.SourceFileName, job.TargetLanguage)
	key, err := object.PutArtifact(ctx, o.store, job.UserID, name, format.OutputMimeType(), output)
	if err != nil {
		return o.fail(ctx, jobID, &translations.ReconstructionError{Err: errors.Wrap(err, "store artifact")})
	}

	now := o.now()
	job, err = o.transition(ctx, job, translations.StatusCompleted, translations.Update{
		Progress:       translations.Ptr(o.cfg.Progress.Completed),
		CompletedUnits: translations.Ptr(job.TotalUnits),
		ArtifactKey:    &key,
		CompletedAt:    &now,
		Error:          translations.Ptr(""),
	})
	if err != nil {
		return err
	}
	metrics.IncJobsCompleted()
	if job.StartedAt != nil {
		metrics.ObserveJobDurationMs(float64(now.Sub(*job.StartedAt).Milliseconds()))
	}
	telemetry.Info("job.completed", map[string]any{
		"job_id":       job.ID,
		"mode":         job.Mode,
		"units":        job.TotalUnits,
		"translated":   len(translated),
		"artifact_key": key,
		"bytes":        len(output),
	})
	return nil
}

// fail moves the job to failed with a readable error and stops its polling.
// Jobs that already reached a terminal state are left untouched. When the
// job cannot be updated its timer is kept, so a poll handler can re-arm.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) error {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "load job %s", jobID)
	}
	if job.Status.IsTerminal() {
		o.StopPolling(jobID)
		return nil
	}
	msg := translations.SanitizeError(cause)
	if msg == "" {
		msg = "translation failed"
	}
	now := o.now()
	if _, err := o.transition(ctx, job, translations.StatusFailed, translations.Update{
		Error:       &msg,
		CompletedAt: &now,
	}); err != nil {
		return err
	}
	o.StopPolling(jobID)
	metrics.IncJobsFailed()
	telemetry.Error("job.failed", map[string]any{
		"job_id":   job.ID,
		"batch_id": job.BatchID,
		"from":     job.Status,
		"error":    msg,
	})
	return nil
}

// failLogged is fail for callers with nowhere to return the error. The job
// keeps its status and is picked up again by the next Resume.
func (o *Orchestrator) failLogged(ctx context.Context, jobID string, cause error) {
	if err := o.fail(ctx, jobID, cause); err != nil {
		telemetry.Error("orchestrator.fail.update_failed", map[string]any{
			"job_id": jobID,
			"cause":  translations.SanitizeError(cause),
			"error":  err.Error(),
		})
	}
}

func (o *Orchestrator) transition(ctx context.Context, job translations.Job, to translations.Status, u translations.Update) (translations.Job, error) {
	u.Status = &to
	updated, err := o.jobs.Update(ctx, job.ID, u)
	if err != nil {
		return job, errors.Wrapf(err, "set job %s to %s", job.ID, to)
	}
	telemetry.Info("job.status", map[string]any{
		"request_id":        translations.RequestIDFromContext(ctx),
		"job_id":            job.ID,
		"status_transition": string(job.Status) + "->" + string(to),
		"progress":          updated.Progress,
	})
	return updated, nil
}
