package translations

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var jobColumnNames = []string{
	"id", "user_id", "status", "mode", "progress", "batch_id", "total_units", "completed_units",
	"last_checked_at", "error", "source_language", "target_language", "style",
	"source_key", "source_file_name", "source_mime_type", "artifact_key",
	"created_at", "updated_at", "started_at", "completed_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func jobRow(id string, status Status, progress int, lastChecked any) *sqlmock.Rows {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(jobColumnNames).AddRow(
		id, "user-1", string(status), ModeBatch, progress, "batch-1", 12, 0,
		lastChecked, "", "en", "fr", "",
		"sources/abc/book.epub", "book.epub", "application/epub+zip", "",
		created, created, nil, nil,
	)
}

func TestPGRepoCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := Job{
		ID:             "job-1",
		UserID:         "user-1",
		Status:         StatusPending,
		Mode:           ModeBatch,
		SourceLanguage: "auto",
		TargetLanguage: "de",
		Style:          "formal",
		SourceKey:      "sources/abc/book.epub",
		SourceFileName: "book.epub",
		SourceMimeType: "application/epub+zip",
		CreatedAt:      time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO translation_jobs").
		WithArgs(
			job.ID,
			job.UserID,
			"pending",
			job.Mode,
			0,
			"",
			0,
			0,
			job.SourceLanguage,
			job.TargetLanguage,
			job.Style,
			job.SourceKey,
			job.SourceFileName,
			job.SourceMimeType,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateSetsOnlyGivenFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	checked := time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE translation_jobs SET progress = \$1, last_checked_at = \$2, updated_at = now\(\) WHERE id = \$3 RETURNING`).
		WithArgs(55, checked, "job-1").
		WillReturnRows(jobRow("job-1", StatusBatchProcessing, 55, checked))

	job, err := repo.Update(context.Background(), "job-1", Update{Progress: Ptr(55), LastCheckedAt: &checked})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if job.Progress != 55 || job.Status != StatusBatchProcessing {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.LastCheckedAt == nil || !job.LastCheckedAt.Equal(checked) {
		t.Fatalf("unexpected lastCheckedAt: %v", job.LastCheckedAt)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Fatalf("expected nil timestamps, got %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateMissingJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("UPDATE translation_jobs SET status").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Update(context.Background(), "missing", Update{Status: Ptr(StatusFailed)})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoListByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := jobRow("job-1", StatusBatchProcessing, 40, nil)
	rows.AddRow(
		"job-2", "user-2", "batch_processing", ModeBatch, 61, "batch-2", 3, 0,
		time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "poll batch batch-2: timeout", "en", "es", "",
		"k", "b.pdf", "application/pdf", "",
		time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), nil, nil,
	)
	mock.ExpectQuery(`FROM translation_jobs WHERE status = \$1 ORDER BY created_at ASC`).
		WithArgs("batch_processing").
		WillReturnRows(rows)

	jobs, err := repo.ListByStatus(context.Background(), StatusBatchProcessing)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].LastCheckedAt != nil {
		t.Fatalf("expected nil lastCheckedAt for job-1")
	}
	if jobs[1].Error == "" || jobs[1].Progress != 61 {
		t.Fatalf("unexpected second job: %+v", jobs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM translation_jobs WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	if _, err := repo.GetByID(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAssignmentsOrder(t *testing.T) {
	sets, args := updateAssignments(Update{
		Status:      Ptr(StatusCompleted),
		Progress:    Ptr(100),
		ArtifactKey: Ptr("artifacts/x"),
	})
	want := []string{"status = $1", "progress = $2", "artifact_key = $3"}
	if len(sets) != len(want) {
		t.Fatalf("unexpected sets: %v", sets)
	}
	for i := range want {
		if sets[i] != want[i] {
			t.Fatalf("sets[%d] = %q, want %q", i, sets[i], want[i])
		}
	}
	if args[0] != "completed" || args[1] != 100 || args[2] != "artifacts/x" {
		t.Fatalf("unexpected args: %v", args)
	}
}
