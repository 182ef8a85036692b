package translations

import "context"

// Repo defines persistence operations for translation jobs. Update applies a
// partial change and returns the stored job; concurrent updates to different
// fields of the same job both survive.
type Repo interface {
	Create(ctx context.Context, job Job) error
	GetByID(ctx context.Context, jobID string) (Job, error)
	Update(ctx context.Context, jobID string, update Update) (Job, error)
	ListByStatus(ctx context.Context, status Status) ([]Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error)
}
