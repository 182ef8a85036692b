package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"translator-backend/internal/shared/auth"
	"translator-backend/internal/translations"
)

func TestTokenCommandSignsVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "user-7", "--email", "u7@example.com"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	claims, err := auth.VerifyJWT(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Sub != "user-7" || claims.Email != "u7@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTranslateRequiresTarget(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"translate", "book.epub"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing --to to fail")
	}
}

func TestWaitForJobReportsUntilTerminal(t *testing.T) {
	ctx := context.Background()
	repo := translations.NewMemoryRepo()
	if err := repo.Create(ctx, translations.Job{ID: "job-1", UserID: "cli", Status: translations.StatusBatchProcessing, Progress: 40}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []int
	report := func(j translations.Job) {
		seen = append(seen, j.Progress)
		if j.Progress == 40 {
			_, _ = repo.Update(ctx, "job-1", translations.Update{
				Status:   translations.Ptr(translations.StatusCompleted),
				Progress: translations.Ptr(100),
			})
		}
	}

	job, err := waitForJob(ctx, repo, "job-1", time.Millisecond, report)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if job.Status != translations.StatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
	if len(seen) != 2 || seen[0] != 40 || seen[1] != 100 {
		t.Fatalf("unexpected reports %v", seen)
	}
}

func TestWaitForJobStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := translations.NewMemoryRepo()
	if err := repo.Create(ctx, translations.Job{ID: "job-2", UserID: "cli", Status: translations.StatusTranslating}); err != nil {
		t.Fatalf("create: %v", err)
	}
	cancel()

	if _, err := waitForJob(ctx, repo, "job-2", time.Hour, nil); err == nil || !strings.Contains(err.Error(), "resume") {
		t.Fatalf("expected interrupted error, got %v", err)
	}
}
