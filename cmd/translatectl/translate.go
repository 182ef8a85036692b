package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"translator-backend/internal/bootstrap"
	"translator-backend/internal/document"
	"translator-backend/internal/shared/config"
	"translator-backend/internal/shared/storage/object"
	"translator-backend/internal/translations"
)

const cliUserID = "cli"

type translateOptions struct {
	source   string
	target   string
	style    string
	mode     string
	output   string
	interval time.Duration
}

func newTranslateCmd() *cobra.Command {
	opts := translateOptions{}
	cmd := &cobra.Command{
		Use:   "translate <file>",
		Short: "Translate a document and write the result next to it",
		Long: `Translate an EPUB or PDF document in this process.

The job is stored in the configured job store, so an interrupted run can be
picked up again with "translatectl resume".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.source, "from", "f", "auto", "source language")
	cmd.Flags().StringVarP(&opts.target, "to", "t", "", "target language (required)")
	cmd.Flags().StringVar(&opts.style, "style", "", "style instructions for the translator")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "batch or direct (defaults to TRANSLATION_MODE)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output path")
	cmd.Flags().DurationVar(&opts.interval, "refresh", 2*time.Second, "how often to report progress")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runTranslate(cmd *cobra.Command, path string, opts translateOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read input")
	}
	format, err := document.ForFile("", path, data)
	if err != nil {
		return err
	}
	output := opts.output
	if output == "" {
		output = filepath.Join(filepath.Dir(path), format.OutputFileName(filepath.Base(path), opts.target))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, config.Load(), bootstrap.RoleLocal)
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.TranslationService.Create(ctx, translations.CreateInput{
		UserID:         cliUserID,
		FileName:       filepath.Base(path),
		Data:           data,
		SourceLanguage: opts.source,
		TargetLanguage: opts.target,
		Style:          opts.style,
		Mode:           opts.mode,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "job %s created\n", job.ID)

	job, err = waitForJob(ctx, app.Jobs, job.ID, opts.interval, func(j translations.Job) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %3d%% (%d/%d units)\n", j.Status, j.Progress, j.CompletedUnits, j.TotalUnits)
	})
	if err != nil {
		return err
	}
	if job.Status == translations.StatusFailed {
		return errors.Newf("job %s failed: %s", job.ID, job.Error)
	}

	artifact, err := object.ReadAll(ctx, app.Store, job.ArtifactKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, artifact, 0o644); err != nil {
		return errors.Wrap(err, "write output")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", output)
	return nil
}

// waitForJob polls the job until it reaches a terminal status, reporting
// every change in status or progress.
func waitForJob(ctx context.Context, jobs translations.Repo, jobID string, every time.Duration, report func(translations.Job)) (translations.Job, error) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last translations.Job
	for {
		job, err := jobs.GetByID(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return job, errors.Wrap(ctx.Err(), "interrupted; run translatectl resume to continue")
			}
			return job, err
		}
		if report != nil && (job.Status != last.Status || job.Progress != last.Progress) {
			report(job)
		}
		last = job
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, errors.Wrap(ctx.Err(), "interrupted; run translatectl resume to continue")
		case <-ticker.C:
		}
	}
}
