package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/translations"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// JobQueue hands newly created jobs to the worker fleet through a Client.
type JobQueue struct {
	client Client
	now    func() time.Time
}

// NewJobQueue wraps client as a translations.JobQueue.
func NewJobQueue(client Client) *JobQueue {
	return &JobQueue{client: client, now: time.Now}
}

// EnqueueJob sends a start message for jobID.
func (q *JobQueue) EnqueueJob(ctx context.Context, jobID, requestID string) error {
	if q == nil || q.client == nil {
		return errors.New("queue client not configured")
	}
	if err := q.client.Send(ctx, NewMessage(jobID, requestID, q.now())); err != nil {
		return errors.Wrapf(err, "enqueue job %s", jobID)
	}
	return nil
}

var _ translations.JobQueue = (*JobQueue)(nil)
