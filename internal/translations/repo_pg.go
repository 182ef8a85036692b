package translations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const jobColumns = `id, user_id, status, mode, progress, batch_id, total_units, completed_units,
       last_checked_at, error, source_language, target_language, style,
       source_key, source_file_name, source_mime_type, artifact_key,
       created_at, updated_at, started_at, completed_at`

// Create inserts a new job.
func (r *PGRepo) Create(ctx context.Context, job Job) error {
	const query = `
INSERT INTO translation_jobs (
	id, user_id, status, mode, progress, batch_id, total_units, completed_units,
	source_language, target_language, style, source_key, source_file_name, source_mime_type,
	created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`
	_, err := r.DB.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		string(job.Status),
		job.Mode,
		job.Progress,
		job.BatchID,
		job.TotalUnits,
		job.CompletedUnits,
		job.SourceLanguage,
		job.TargetLanguage,
		job.Style,
		job.SourceKey,
		job.SourceFileName,
		job.SourceMimeType,
		job.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert translation job")
	}
	return nil
}

// GetByID returns a job by ID.
func (r *PGRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM translation_jobs WHERE id = $1 LIMIT 1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// Update writes only the fields set in update. Each column is assigned
// independently so concurrent writers touching different fields do not
// clobber each other.
func (r *PGRepo) Update(ctx context.Context, jobID string, update Update) (Job, error) {
	sets, args := updateAssignments(update)
	if len(sets) == 0 {
		return r.GetByID(ctx, jobID)
	}
	args = append(args, jobID)
	query := fmt.Sprintf(`UPDATE translation_jobs SET %s, updated_at = now() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), jobColumns)

	job, err := scanJob(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, errors.Wrapf(err, "update translation job %s", jobID)
	}
	return job, nil
}

// ListByStatus returns jobs in status, oldest first.
func (r *PGRepo) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM translation_jobs WHERE status = $1 ORDER BY created_at ASC`
	return r.queryJobs(ctx, query, string(status))
}

// ListByUser returns jobs for a user, newest first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + jobColumns + ` FROM translation_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryJobs(ctx, query, userID, limit, offset)
}

func (r *PGRepo) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query translation jobs")
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate translation jobs")
	}
	return jobs, nil
}

func updateAssignments(u Update) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Mode != nil {
		add("mode", *u.Mode)
	}
	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.BatchID != nil {
		add("batch_id", *u.BatchID)
	}
	if u.TotalUnits != nil {
		add("total_units", *u.TotalUnits)
	}
	if u.CompletedUnits != nil {
		add("completed_units", *u.CompletedUnits)
	}
	if u.LastCheckedAt != nil {
		add("last_checked_at", *u.LastCheckedAt)
	}
	if u.Error != nil {
		add("error", *u.Error)
	}
	if u.ArtifactKey != nil {
		add("artifact_key", *u.ArtifactKey)
	}
	if u.StartedAt != nil {
		add("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}
	return sets, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var status string
	var lastCheckedAt, startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&status,
		&job.Mode,
		&job.Progress,
		&job.BatchID,
		&job.TotalUnits,
		&job.CompletedUnits,
		&lastCheckedAt,
		&job.Error,
		&job.SourceLanguage,
		&job.TargetLanguage,
		&job.Style,
		&job.SourceKey,
		&job.SourceFileName,
		&job.SourceMimeType,
		&job.ArtifactKey,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	job.LastCheckedAt = nullTimePtr(lastCheckedAt)
	job.StartedAt = nullTimePtr(startedAt)
	job.CompletedAt = nullTimePtr(completedAt)
	return job, nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

var _ Repo = (*PGRepo)(nil)
