package translations

import "time"

// Status is the lifecycle state of a translation job.
type Status string

const (
	StatusPending         Status = "pending"
	StatusBatchSubmitted  Status = "batch_submitted"
	StatusBatchProcessing Status = "batch_processing"
	StatusTranslating     Status = "translating"
	StatusReconstructing  Status = "reconstructing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	ModeBatch  = "batch"
	ModeDirect = "direct"
)

// Job is one document translation request and its progress.
type Job struct {
	ID             string     `json:"id" bson:"_id"`
	UserID         string     `json:"userId" bson:"user_id"`
	Status         Status     `json:"status" bson:"status"`
	Mode           string     `json:"mode,omitempty" bson:"mode"`
	Progress       int        `json:"progress" bson:"progress"`
	BatchID        string     `json:"batchId,omitempty" bson:"batch_id"`
	TotalUnits     int        `json:"totalUnits" bson:"total_units"`
	CompletedUnits int        `json:"completedUnits" bson:"completed_units"`
	LastCheckedAt  *time.Time `json:"lastCheckedAt,omitempty" bson:"last_checked_at,omitempty"`
	Error          string     `json:"error,omitempty" bson:"error"`

	SourceLanguage string `json:"sourceLanguage" bson:"source_language"`
	TargetLanguage string `json:"targetLanguage" bson:"target_language"`
	Style          string `json:"style,omitempty" bson:"style"`

	SourceKey      string `json:"-" bson:"source_key"`
	SourceFileName string `json:"sourceFileName" bson:"source_file_name"`
	SourceMimeType string `json:"sourceMimeType" bson:"source_mime_type"`
	ArtifactKey    string `json:"-" bson:"artifact_key"`

	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updated_at"`
	StartedAt   *time.Time `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// Update is a partial job update. Nil fields are left untouched.
type Update struct {
	Status         *Status
	Mode           *string
	Progress       *int
	BatchID        *string
	TotalUnits     *int
	CompletedUnits *int
	LastCheckedAt  *time.Time
	Error          *string
	ArtifactKey    *string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.Status == nil && u.Mode == nil && u.Progress == nil && u.BatchID == nil &&
		u.TotalUnits == nil && u.CompletedUnits == nil && u.LastCheckedAt == nil &&
		u.Error == nil && u.ArtifactKey == nil && u.StartedAt == nil && u.CompletedAt == nil
}

// Apply copies every set field of u onto job.
func (u Update) Apply(job *Job) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Mode != nil {
		job.Mode = *u.Mode
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.BatchID != nil {
		job.BatchID = *u.BatchID
	}
	if u.TotalUnits != nil {
		job.TotalUnits = *u.TotalUnits
	}
	if u.CompletedUnits != nil {
		job.CompletedUnits = *u.CompletedUnits
	}
	if u.LastCheckedAt != nil {
		t := *u.LastCheckedAt
		job.LastCheckedAt = &t
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	if u.ArtifactKey != nil {
		job.ArtifactKey = *u.ArtifactKey
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
}

// Ptr returns a pointer to v, for building Update values.
func Ptr[T any](v T) *T {
	return &v
}
