package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"translator-backend/internal/llm"
	"translator-backend/internal/translations"
)

func staleBatchJob(t *testing.T, e *env) string {
	t.Helper()
	stale := e.clock.Now().Add(-10 * time.Minute)
	return e.createJob(t, translations.Job{
		Status:        translations.StatusBatchProcessing,
		Mode:          translations.ModeBatch,
		BatchID:       "batch-9",
		Progress:      40,
		TotalUnits:    2,
		LastCheckedAt: &stale,
	}, "one", "two")
}

func TestSourceReadErrorWhileRehydratingKeepsPolling(t *testing.T) {
	provider := &scriptedProvider{statuses: []llm.RemoteBatch{{ID: "batch-9", Status: "in_progress", Total: 2, Completed: 1}}}
	e := newEnv(t, provider)
	id := staleBatchJob(t, e)
	e.store.failNextOpens(1)

	_, err := e.orch.Resume(context.Background())
	require.NoError(t, err)
	e.sched.fire(t, e.sched.only(t))

	job := e.job(t, id)
	require.Equal(t, translations.StatusBatchProcessing, job.Status)
	require.Contains(t, job.Error, "connection reset")
	require.Zero(t, provider.polls)
	timer := e.sched.only(t)
	require.Equal(t, 2*time.Minute, timer.d)

	e.clock.Advance(2 * time.Minute)
	e.sched.fire(t, timer)
	job = e.job(t, id)
	require.Equal(t, translations.StatusBatchProcessing, job.Status)
	require.Empty(t, job.Error)
	require.Equal(t, 55, job.Progress)
	require.Equal(t, 1, provider.polls)
	e.sched.only(t)
}

func TestCompletionRetriesAfterInfrastructureErrors(t *testing.T) {
	tests := []struct {
		name    string
		inject  func(e *env)
		wantErr string
	}{
		{
			name:    "source read",
			inject:  func(e *env) { e.store.failNextOpens(1) },
			wantErr: "connection reset",
		},
		{
			name:    "reconstructing update",
			inject:  func(e *env) { e.repo.failStatusOnce(translations.StatusReconstructing) },
			wantErr: "broken pipe",
		},
		{
			name:    "completed update",
			inject:  func(e *env) { e.repo.failStatusOnce(translations.StatusCompleted) },
			wantErr: "broken pipe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{
				statuses: []llm.RemoteBatch{{ID: "batch-1", Status: "completed", Total: 2, Completed: 2, OutputFileID: "out"}},
				output:   resultLines("u1", "un", "u2", "deux"),
			}
			e := newEnv(t, provider)
			id := e.createJob(t, translations.Job{}, "one", "two")
			require.NoError(t, e.orch.Start(context.Background(), id))
			tt.inject(e)

			e.clock.Advance(2 * time.Minute)
			e.sched.fire(t, e.sched.only(t))
			job := e.job(t, id)
			require.False(t, job.Status.IsTerminal(), "status %s", job.Status)
			require.Contains(t, job.Error, tt.wantErr)
			require.True(t, e.orch.Scheduled(id))
			timer := e.sched.only(t)
			require.Equal(t, 2*time.Minute, timer.d)

			e.clock.Advance(2 * time.Minute)
			e.sched.fire(t, timer)
			job = e.job(t, id)
			require.Equal(t, translations.StatusCompleted, job.Status)
			require.Equal(t, 100, job.Progress)
			require.Empty(t, job.Error)
			require.Equal(t, "un\ndeux", e.artifact(t, job))
			require.Equal(t, 1, provider.polls)
			require.Empty(t, e.sched.pending())
			require.False(t, e.orch.Scheduled(id))
		})
	}
}

func TestUnrecordedBackendFailureKeepsPolling(t *testing.T) {
	provider := &scriptedProvider{
		statuses: []llm.RemoteBatch{{ID: "batch-1", Status: "failed", Errors: []string{"quota exceeded"}}},
	}
	e := newEnv(t, provider)
	id := e.createJob(t, translations.Job{}, "one", "two")
	require.NoError(t, e.orch.Start(context.Background(), id))
	e.repo.failStatusOnce(translations.StatusFailed)

	e.sched.fire(t, e.sched.only(t))
	job := e.job(t, id)
	require.Equal(t, translations.StatusBatchProcessing, job.Status)
	require.Contains(t, job.Error, "broken pipe")
	timer := e.sched.only(t)

	e.clock.Advance(2 * time.Minute)
	e.sched.fire(t, timer)
	job = e.job(t, id)
	require.Equal(t, translations.StatusFailed, job.Status)
	require.Contains(t, job.Error, "quota exceeded")
	require.Equal(t, 1, provider.polls)
	require.Empty(t, e.sched.pending())
}

func TestResumeLeavesJobWhenFailureCannotBeRecorded(t *testing.T) {
	e := newEnv(t, &scriptedProvider{})
	id := e.createJob(t, translations.Job{Status: translations.StatusBatchSubmitted}, "one")
	e.repo.failStatusOnce(translations.StatusFailed)

	_, err := e.orch.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, translations.StatusBatchSubmitted, e.job(t, id).Status)

	_, err = e.orch.Resume(context.Background())
	require.NoError(t, err)
	job := e.job(t, id)
	require.Equal(t, translations.StatusFailed, job.Status)
	require.Contains(t, job.Error, "interrupted")
}

func TestResumedDirectRunRetriesUnreadableSource(t *testing.T) {
	e := newEnv(t, &scriptedProvider{})
	id := e.createJob(t, translations.Job{
		Status:     translations.StatusTranslating,
		Mode:       translations.ModeDirect,
		Progress:   30,
		TotalUnits: 2,
	}, "one", "two")
	e.store.failNextOpens(1)

	n, err := e.orch.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool { return len(e.sched.pending()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, translations.StatusTranslating, e.job(t, id).Status)
	timer := e.sched.only(t)
	require.Equal(t, 2*time.Minute, timer.d)

	e.sched.fire(t, timer)
	require.Eventually(t, func() bool {
		job, err := e.repo.GetByID(context.Background(), id)
		return err == nil && job.Status == translations.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "ONE\nTWO", e.artifact(t, e.job(t, id)))
}
