package translations

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements Repo on a MongoDB collection.
type MongoRepo struct {
	col *mongo.Collection
	now func() time.Time
}

// NewMongoRepo uses the translation_jobs collection of db and ensures its indexes.
func NewMongoRepo(ctx context.Context, db *mongo.Database) (*MongoRepo, error) {
	col := db.Collection("translation_jobs")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create translation job indexes")
	}
	return &MongoRepo{col: col, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Create inserts a new job.
func (r *MongoRepo) Create(ctx context.Context, job Job) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if _, err := r.col.InsertOne(ctx, job); err != nil {
		return errors.Wrap(err, "insert translation job")
	}
	return nil
}

// GetByID returns a job by ID.
func (r *MongoRepo) GetByID(ctx context.Context, jobID string) (Job, error) {
	var job Job
	err := r.col.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, errors.Wrapf(err, "find translation job %s", jobID)
	}
	return job, nil
}

// Update sets only the provided fields and returns the updated document.
func (r *MongoRepo) Update(ctx context.Context, jobID string, update Update) (Job, error) {
	set := updateDocument(update)
	if len(set) == 0 {
		return r.GetByID(ctx, jobID)
	}
	set["updated_at"] = r.now()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var job Job
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": jobID}, bson.M{"$set": set}, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, errors.Wrapf(err, "update translation job %s", jobID)
	}
	return job, nil
}

// ListByStatus returns jobs in status, oldest first.
func (r *MongoRepo) ListByStatus(ctx context.Context, status Status) ([]Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return r.find(ctx, bson.M{"status": status}, opts)
}

// ListByUser returns jobs for a user, newest first.
func (r *MongoRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	return r.find(ctx, bson.M{"user_id": userID}, opts)
}

func (r *MongoRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Job, error) {
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find translation jobs")
	}
	defer cursor.Close(ctx)

	jobs := make([]Job, 0)
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, errors.Wrap(err, "decode translation jobs")
	}
	return jobs, nil
}

func updateDocument(u Update) bson.M {
	set := bson.M{}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.Mode != nil {
		set["mode"] = *u.Mode
	}
	if u.Progress != nil {
		set["progress"] = *u.Progress
	}
	if u.BatchID != nil {
		set["batch_id"] = *u.BatchID
	}
	if u.TotalUnits != nil {
		set["total_units"] = *u.TotalUnits
	}
	if u.CompletedUnits != nil {
		set["completed_units"] = *u.CompletedUnits
	}
	if u.LastCheckedAt != nil {
		set["last_checked_at"] = *u.LastCheckedAt
	}
	if u.Error != nil {
		set["error"] = *u.Error
	}
	if u.ArtifactKey != nil {
		set["artifact_key"] = *u.ArtifactKey
	}
	if u.StartedAt != nil {
		set["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		set["completed_at"] = *u.CompletedAt
	}
	return set
}

var _ Repo = (*MongoRepo)(nil)
