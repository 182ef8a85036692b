package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/batch"
	"translator-backend/internal/document"
	"translator-backend/internal/shared/metrics"
	"translator-backend/internal/shared/storage/object"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

const (
	defaultPollInterval  = 2 * time.Minute
	defaultPollTimeout   = time.Minute
	defaultFinishTimeout = 10 * time.Minute
)

// BatchBackend is the asynchronous translation backend as seen by the
// orchestrator. *batch.Client implements it.
type BatchBackend interface {
	SubmitBatch(ctx context.Context, jobID string, units []document.Unit, sourceLanguage, targetLanguage, style string) (batch.State, error)
	PollStatus(ctx context.Context, batchID string) (batch.State, error)
	FetchResults(ctx context.Context, batchID string) ([]document.TranslatedUnit, error)
	Lookup(ctx context.Context, batchID string) (batch.State, bool, error)
	Track(ctx context.Context, batchID, jobID string, units []document.Unit) error
	Forget(ctx context.Context, batchID string) error
}

// DirectTranslator translates units synchronously, recording per-unit
// progress on the job. *direct.Runner implements it.
type DirectTranslator interface {
	Translate(ctx context.Context, job translations.Job, units []document.Unit) ([]document.TranslatedUnit, error)
}

// Config tunes the orchestrator.
type Config struct {
	Mode          string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	FinishTimeout time.Duration
	Progress      translations.Progress
}

func (c Config) normalize() Config {
	if c.Mode != translations.ModeDirect {
		c.Mode = translations.ModeBatch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = defaultFinishTimeout
	}
	c.Progress = c.Progress.Normalize()
	return c
}

// FormatResolver picks the document format for a stored source.
type FormatResolver func(mimeType, fileName string, data []byte) (document.Format, error)

// Deps are the collaborators the orchestrator drives. Formats defaults to
// document.ForFile.
type Deps struct {
	Jobs    translations.Repo
	Store   object.ObjectStore
	Batch   BatchBackend
	Direct  DirectTranslator
	Formats FormatResolver
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithScheduler replaces the wall-clock timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.sched = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns the job state machine: it submits batches, polls them on
// a per-job timer, falls back to direct translation, and reconstructs the
// translated document. Timers live in a registry owned by the instance; at
// most one is outstanding per job.
type Orchestrator struct {
	jobs    translations.Repo
	store   object.ObjectStore
	batch   BatchBackend
	direct  DirectTranslator
	formats FormatResolver
	cfg     Config
	sched   Scheduler
	now     func() time.Time
	locks   *jobLocks

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*pollTimer
	gen     uint64
	running map[string]struct{}
	closed  bool
}

type pollTimer struct {
	timer Timer
	gen   uint64
}

// New constructs an Orchestrator. Call Stop to cancel its timers.
func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		jobs:    deps.Jobs,
		store:   deps.Store,
		batch:   deps.Batch,
		direct:  deps.Direct,
		formats: deps.Formats,
		cfg:     cfg.normalize(),
		sched:   clockScheduler{},
		now:     func() time.Time { return time.Now().UTC() },
		locks:   newJobLocks(),
		baseCtx: ctx,
		cancel:  cancel,
		timers:  make(map[string]*pollTimer),
		running: make(map[string]struct{}),
	}
	if o.formats == nil {
		o.formats = document.ForFile
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start moves a pending job into processing: it extracts units, submits
// them as a batch and arms the first poll, or translates directly when the
// job runs in direct mode or the backend rejects the submission. Jobs that
// are no longer pending are left alone, so redelivered queue messages are
// harmless. The returned error is reserved for infrastructure failures the
// caller may retry; job failures are recorded on the job.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	unlock := o.locks.lock(jobID)
	defer unlock()
	ctx, cancel := o.bind(ctx)
	defer cancel()

	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "load job %s", jobID)
	}
	if job.Status != translations.StatusPending {
		telemetry.Info("orchestrator.start.skipped", map[string]any{"job_id": jobID, "status": job.Status})
		return nil
	}
	metrics.IncJobsStarted()

	format, source, units, err := o.load(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isExtractionError(err) {
			err = &translations.ExtractionError{Err: err}
		}
		return o.fail(ctx, job.ID, err)
	}

	now := o.now()
	total := len(units)
	mode := job.Mode
	if mode != translations.ModeBatch && mode != translations.ModeDirect {
		mode = o.cfg.Mode
	}
	if o.batch == nil {
		mode = translations.ModeDirect
	}
	job, err = o.jobs.Update(ctx, job.ID, translations.Update{
		Mode:       &mode,
		TotalUnits: &total,
		StartedAt:  &now,
	})
	if err != nil {
		return errors.Wrapf(err, "record units for job %s", jobID)
	}

	if mode == translations.ModeDirect {
		return o.runDirect(ctx, job, format, source, units)
	}
	return o.submit(ctx, job, format, source, units)
}

func (o *Orchestrator) submit(ctx context.Context, job translations.Job, format document.Format, source []byte, units []document.Unit) error {
	job, err := o.transition(ctx, job, translations.StatusBatchSubmitted, translations.Update{})
	if err != nil {
		return err
	}

	st, err := o.batch.SubmitBatch(ctx, job.ID, units, job.SourceLanguage, job.TargetLanguage, job.Style)
	if err != nil {
		var subErr *translations.SubmissionError
		if !errors.As(err, &subErr) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.fail(ctx, job.ID, &translations.SubmissionError{Err: err})
		}
		metrics.IncDirectFallbacks()
		telemetry.Warn("orchestrator.batch.fallback", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return o.runDirect(ctx, job, format, source, units)
	}

	now := o.now()
	job, err = o.transition(ctx, job, translations.StatusBatchProcessing, translations.Update{
		BatchID:       &st.BatchID,
		Progress:      translations.Ptr(max(job.Progress, o.cfg.Progress.BatchSubmitted)),
		LastCheckedAt: &now,
		Error:         translations.Ptr(""),
	})
	if err != nil {
		return err
	}
	o.schedule(job.ID, o.cfg.PollInterval)
	return nil
}

// Resume re-arms polling for jobs that were in flight when the previous
// process stopped. Each resumed batch job ends up with exactly one timer,
// due immediately when its last check is older than the poll interval.
// Interrupted direct runs continue in the background from their scratch
// units. It returns the number of jobs resumed.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	now := o.now()
	resumed := 0

	for _, status := range []translations.Status{translations.StatusBatchProcessing, translations.StatusReconstructing} {
		jobs, err := o.jobs.ListByStatus(ctx, status)
		if err != nil {
			return resumed, errors.Wrapf(err, "list %s jobs", status)
		}
		for _, job := range jobs {
			if job.BatchID == "" {
				if job.Mode == translations.ModeDirect {
					if o.resumeDirect(job) {
						resumed++
					}
					continue
				}
				o.failLogged(ctx, job.ID, errors.New("batch job has no batch id"))
				continue
			}
			delay := NextPollDelay(job.LastCheckedAt, now, o.cfg.PollInterval)
			o.schedule(job.ID, delay)
			metrics.IncJobsResumed()
			resumed++
			telemetry.Info("orchestrator.resume.poll", map[string]any{
				"job_id":       job.ID,
				"batch_id":     job.BatchID,
				"status":       job.Status,
				"delay_ms":     delay.Milliseconds(),
				"last_checked": job.LastCheckedAt,
			})
		}
	}

	submitted, err := o.jobs.ListByStatus(ctx, translations.StatusBatchSubmitted)
	if err != nil {
		return resumed, errors.Wrap(err, "list batch_submitted jobs")
	}
	for _, job := range submitted {
		o.failLogged(ctx, job.ID, errors.New("batch submission was interrupted by a restart"))
	}

	translating, err := o.jobs.ListByStatus(ctx, translations.StatusTranslating)
	if err != nil {
		return resumed, errors.Wrap(err, "list translating jobs")
	}
	for _, job := range translating {
		if o.resumeDirect(job) {
			resumed++
		}
	}
	return resumed, nil
}

// StopPolling cancels the job's pending poll. It is a no-op when no timer
// is armed. A poll already running for the job will not re-arm.
func (o *Orchestrator) StopPolling(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pt, ok := o.timers[jobID]
	if !ok {
		return
	}
	if pt.timer != nil {
		pt.timer.Stop()
	}
	delete(o.timers, jobID)
}

// Stop cancels every timer and waits for running handlers. In-flight work
// is abandoned without failing jobs, so Resume picks it up on restart.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for id, pt := range o.timers {
		if pt.timer != nil {
			pt.timer.Stop()
		}
		delete(o.timers, id)
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	telemetry.Info("orchestrator.stopped", nil)
}

// Scheduled reports whether a poll is armed or running for the job.
func (o *Orchestrator) Scheduled(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.timers[jobID]
	return ok
}

// schedule arms a poll for the job after delay, replacing any existing timer.
func (o *Orchestrator) schedule(jobID string, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if pt, ok := o.timers[jobID]; ok && pt.timer != nil {
		pt.timer.Stop()
	}
	o.armLocked(jobID, delay)
}

// rearm schedules the next poll from within a poll handler. It does nothing
// when the handler's timer was stopped or replaced while it ran.
func (o *Orchestrator) rearm(jobID string, gen uint64, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pt, ok := o.timers[jobID]
	if o.closed || !ok || pt.gen != gen {
		return
	}
	o.armLocked(jobID, delay)
}

func (o *Orchestrator) armLocked(jobID string, delay time.Duration) {
	o.gen++
	gen := o.gen
	pt := &pollTimer{gen: gen}
	o.timers[jobID] = pt
	pt.timer = o.sched.AfterFunc(delay, func() { o.onTimer(jobID, gen) })
}

// bind derives a context that is also canceled when the orchestrator stops.
func (o *Orchestrator) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
