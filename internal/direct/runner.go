package direct

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"translator-backend/internal/document"
	"translator-backend/internal/llm"
	"translator-backend/internal/shared/telemetry"
	"translator-backend/internal/translations"
)

// Runner translates units one at a time through a synchronous translator.
// It is the fallback when batch submission is rejected.
type Runner struct {
	Jobs     translations.Repo
	LLM      llm.Translator
	Scratch  *Scratch
	Limiter  *rate.Limiter
	Progress translations.Progress
}

// NewRunner constructs a Runner that makes at most perMinute translation
// calls per minute. A non-positive perMinute disables the limit.
func NewRunner(jobs translations.Repo, translator llm.Translator, scratch *Scratch, perMinute int, progress translations.Progress) *Runner {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
	return &Runner{
		Jobs:     jobs,
		LLM:      translator,
		Scratch:  scratch,
		Limiter:  limiter,
		Progress: progress.Normalize(),
	}
}

// Translate translates units in order and records progress on the job after
// each one. Units already present in scratch are reused. The first unit that
// fails aborts the run.
func (r *Runner) Translate(ctx context.Context, job translations.Job, units []document.Unit) ([]document.TranslatedUnit, error) {
	if len(units) == 0 {
		return nil, document.ErrNoUnits
	}
	if r.LLM == nil {
		return nil, errors.New("no translator configured")
	}
	translator := newRetryingTranslator(r.LLM, job.ID)
	progress := job.Progress
	out := make([]document.TranslatedUnit, 0, len(units))
	reused := 0

	for i, u := range units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		translated, ok := r.Scratch.Load(ctx, job.ID, u.ID)
		if ok {
			reused++
		} else {
			if r.Limiter != nil {
				if err := r.Limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			content, err := translator.TranslateUnit(ctx, llm.TranslateInput{
				UnitID:         u.ID,
				Title:          u.Title,
				Content:        u.Content,
				SourceLanguage: job.SourceLanguage,
				TargetLanguage: job.TargetLanguage,
				Style:          job.Style,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "translate unit %s", u.ID)
			}
			if strings.TrimSpace(content) == "" {
				return nil, errors.Newf("empty translation for unit %s", u.ID)
			}
			translated = document.TranslatedUnit{ID: u.ID, Title: u.Title, Content: content}
			if err := r.Scratch.Save(ctx, job.ID, translated); err != nil {
				telemetry.Warn("direct.scratch.save_failed", map[string]any{"job_id": job.ID, "unit_id": u.ID, "error": err.Error()})
			}
		}
		out = append(out, translated)

		done := i + 1
		progress = max(progress, r.Progress.DirectProgress(done, len(units)))
		if _, err := r.Jobs.Update(ctx, job.ID, translations.Update{
			CompletedUnits: &done,
			Progress:       &progress,
		}); err != nil {
			return nil, errors.Wrap(err, "record direct progress")
		}
	}

	telemetry.Info("direct.translated", map[string]any{
		"job_id": job.ID,
		"units":  len(units),
		"reused": reused,
	})
	return out, nil
}
