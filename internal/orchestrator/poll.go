package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/batch"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

// onTimer runs when a job's poll timer fires. The registry entry stays in
// place while the handler runs so StopPolling can veto the re-arm.
func (o *Orchestrator) onTimer(jobID string, gen uint64) {
	o.mu.Lock()
	pt, ok := o.timers[jobID]
	if o.closed || !ok || pt.gen != gen {
		o.mu.Unlock()
		return
	}
	pt.timer = nil
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	unlock := o.locks.lock(jobID)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("orchestrator.poll.panic", map[string]any{"job_id": jobID, "panic": r})
			o.rearm(jobID, gen, o.cfg.PollInterval)
		}
	}()
	o.poll(jobID, gen)
}

func (o *Orchestrator) poll(jobID string, gen uint64) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.PollTimeout)
	defer cancel()

	job, err := o.jobs.GetByID(ctx, jobID)
	if errors.Is(err, translations.ErrNotFound) {
		o.StopPolling(jobID)
		return
	}
	if err != nil {
		if o.baseCtx.Err() == nil {
			telemetry.Warn("orchestrator.poll.job_lookup_failed", map[string]any{"job_id": jobID, "error": err.Error()})
			o.rearm(jobID, gen, o.cfg.PollInterval)
		}
		return
	}

	switch job.Status {
	case translations.StatusBatchProcessing, translations.StatusReconstructing:
	default:
		// Terminal or not a batch job any more.
		o.StopPolling(jobID)
		return
	}
	if job.BatchID == "" {
		o.failPoll(ctx, job, gen, errors.New("batch job has no batch id"))
		return
	}

	if err := o.ensureTracked(ctx, job); err != nil {
		if isExtractionError(err) {
			o.failPoll(ctx, job, gen, err)
			return
		}
		o.pollFailed(ctx, job, gen, err)
		return
	}

	metrics.IncBatchPolls()
	st, err := o.batch.PollStatus(ctx, job.BatchID)
	if err != nil {
		o.pollFailed(ctx, job, gen, err)
		return
	}

	now := o.now()
	switch st.Status {
	case batch.StatusCompleted:
		o.complete(job, gen, st)
	case batch.StatusFailed:
		if o.failPoll(ctx, job, gen, &translations.BackendJobFailure{BatchID: job.BatchID, Reason: st.Error}) {
			o.forget(job.BatchID)
		}
	default:
		progress := o.cfg.Progress.BatchProgress(job.Progress, st.Progress)
		if _, err := o.jobs.Update(ctx, jobID, translations.Update{
			Progress:      &progress,
			LastCheckedAt: &now,
			Error:         translations.Ptr(""),
		}); err != nil {
			telemetry.Warn("orchestrator.poll.update_failed", map[string]any{"job_id": jobID, "error": err.Error()})
		}
		telemetry.Debug("orchestrator.poll", map[string]any{
			"job_id":       jobID,
			"batch_id":     job.BatchID,
			"batch_status": st.Status,
			"progress":     progress,
		})
		o.rearm(jobID, gen, o.cfg.PollInterval)
	}
}

// pollFailed records a transient error on the job and polls again after the
// regular interval. The job keeps its status.
func (o *Orchestrator) pollFailed(ctx context.Context, job translations.Job, gen uint64, err error) {
	if o.baseCtx.Err() != nil {
		return
	}
	metrics.IncBatchPollErrors()
	now := o.now()
	msg := translations.SanitizeError(err)
	if _, uerr := o.jobs.Update(ctx, job.ID, translations.Update{
		LastCheckedAt: &now,
		Error:         &msg,
	}); uerr != nil {
		telemetry.Warn("orchestrator.poll.update_failed", map[string]any{"job_id": job.ID, "error": uerr.Error()})
	}
	telemetry.Warn("orchestrator.poll.error", map[string]any{
		"job_id":    job.ID,
		"batch_id":  job.BatchID,
		"error":     msg,
		"transient": translations.IsTransient(err),
	})
	o.rearm(job.ID, gen, o.cfg.PollInterval)
}

// complete fetches the results of a finished batch and runs the shared tail.
// The poll timer stays registered until the job is terminal: any step that
// fails without settling the job re-arms, and the next poll finds the batch
// already completed and retries the tail.
func (o *Orchestrator) complete(job translations.Job, gen uint64, st batch.State) {
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.FinishTimeout)
	defer cancel()

	results, err := o.batch.FetchResults(ctx, job.BatchID)
	if err != nil {
		o.pollFailed(ctx, job, gen, err)
		return
	}
	if len(results) == 0 {
		if o.failPoll(ctx, job, gen, &translations.BackendJobFailure{BatchID: job.BatchID, Reason: "no translated units returned"}) {
			o.forget(job.BatchID)
		}
		return
	}

	format, source, _, err := o.load(ctx, job)
	if err != nil {
		if isExtractionError(err) {
			o.failPoll(ctx, job, gen, &translations.ReconstructionError{Err: err})
			return
		}
		o.pollFailed(ctx, job, gen, err)
		return
	}
	if st.Skipped > 0 {
		telemetry.Warn("orchestrator.batch.partial", map[string]any{
			"job_id":     job.ID,
			"batch_id":   job.BatchID,
			"translated": len(results),
			"skipped":    st.Skipped,
		})
	}
	if err := o.finish(ctx, job.ID, format, source, results); err != nil {
		telemetry.Error("orchestrator.finish.failed", map[string]any{"job_id": job.ID, "error": err.Error()})
		o.pollFailed(ctx, job, gen, err)
		return
	}
	o.StopPolling(job.ID)
	o.forget(job.BatchID)
}

// failPoll fails the job from within a poll handler. When the failure
// cannot be recorded the handler re-arms instead, and it reports false.
func (o *Orchestrator) failPoll(ctx context.Context, job translations.Job, gen uint64, cause error) bool {
	if err := o.fail(ctx, job.ID, cause); err != nil {
		telemetry.Error("orchestrator.fail.update_failed", map[string]any{
			"job_id": job.ID,
			"cause":  translations.SanitizeError(cause),
			"error":  err.Error(),
		})
		o.pollFailed(ctx, job, gen, err)
		return false
	}
	return true
}

// ensureTracked restores the batch state after a restart by re-extracting
// the units under the existing batch id.
func (o *Orchestrator) ensureTracked(ctx context.Context, job translations.Job) error {
	_, ok, err := o.batch.Lookup(ctx, job.BatchID)
	if err != nil || ok {
		return err
	}
	_, _, units, err := o.load(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if err := o.batch.Track(ctx, job.BatchID, job.ID, units); err != nil {
		return err
	}
	telemetry.Info("orchestrator.batch.rehydrated", map[string]any{
		"job_id":   job.ID,
		"batch_id": job.BatchID,
		"units":    len(units),
	})
	return nil
}

func (o *Orchestrator) forget(batchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PollTimeout)
	defer cancel()
	if err := o.batch.Forget(ctx, batchID); err != nil {
		telemetry.Warn("orchestrator.batch.forget_failed", map[string]any{"batch_id": batchID, "error": err.Error()})
	}
}
