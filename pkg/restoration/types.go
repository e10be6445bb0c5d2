package restoration

import (
	"context"
	"fmt"
	"strings"
)

// JobID identifies a restoration job.
type JobID struct {
	value string
}

// OwnerID identifies the user that owns a job.
type OwnerID struct {
	value string
}

// TaskID is the enhancement provider's identifier for a submitted task.
type TaskID struct {
	value string
}

// NewJobID validates and normalizes a job id.
func NewJobID(raw string) (JobID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return JobID{}, fmt.Errorf("%w: empty value", ErrInvalidJobID)
	}
	return JobID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id JobID) String() string {
	return id.value
}

// NewOwnerID validates and normalizes an owner id.
func NewOwnerID(raw string) (OwnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OwnerID{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	return OwnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OwnerID) String() string {
	return id.value
}

// NewTaskID validates and normalizes a provider task id.
func NewTaskID(raw string) (TaskID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TaskID{}, fmt.Errorf("%w: empty value", ErrInvalidTaskID)
	}
	return TaskID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TaskID) String() string {
	return id.value
}

// IsZero reports whether no task was attached.
func (id TaskID) IsZero() bool {
	return id.value == ""
}

// Status is the job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.TrimSpace(raw)) {
	case StatusPending:
		return StatusPending, nil
	case StatusProcessing:
		return StatusProcessing, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the stored representation.
func (status Status) String() string {
	return string(status)
}

// IsTerminal reports whether no further provider work happens for the status.
func (status Status) IsTerminal() bool {
	return status == StatusCompleted || status == StatusFailed
}

// UnlockMethod records how the full-resolution artifact was released.
type UnlockMethod string

const (
	UnlockNone        UnlockMethod = "none"
	UnlockPaid        UnlockMethod = "paid"
	UnlockSocialShare UnlockMethod = "social_share"
)

// ParseUnlockMethod validates a stored unlock method value.
func ParseUnlockMethod(raw string) (UnlockMethod, error) {
	switch UnlockMethod(strings.TrimSpace(raw)) {
	case UnlockNone, "":
		return UnlockNone, nil
	case UnlockPaid:
		return UnlockPaid, nil
	case UnlockSocialShare:
		return UnlockSocialShare, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnlockMethod, raw)
	}
}

// String returns the stored representation.
func (method UnlockMethod) String() string {
	return string(method)
}

// Job is one restoration request and its lifecycle state.
type Job struct {
	ID              JobID
	OwnerID         OwnerID
	OriginalURL     string
	PreviewURL      string
	FullURL         string
	TaskID          TaskID
	Status          Status
	UnlockMethod    UnlockMethod
	UnlockedUnixUTC int64
	ErrorMessage    string
	CreatedUnixUTC  int64
	ExpiresUnixUTC  int64
}

// IsUnlocked reports whether the full artifact has been released.
func (job Job) IsUnlocked() bool {
	return job.UnlockMethod != UnlockNone && job.UnlockMethod != ""
}

// IsActive reports whether the job has not yet expired at the given time.
func (job Job) IsActive(atUnixUTC int64) bool {
	return job.ExpiresUnixUTC > atUnixUTC
}

// IsFinalized reports whether a completed result has already been stored.
func (job Job) IsFinalized() bool {
	return job.Status == StatusCompleted && job.FullURL != ""
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID JobID) (Job, error)
	LockJob(ctx context.Context, jobID JobID) (Job, error)
	FindJobByTaskID(ctx context.Context, taskID TaskID) (Job, error)
	AttachTask(ctx context.Context, jobID JobID, taskID TaskID) error
	UpdateStatus(ctx context.Context, jobID JobID, from Status, to Status) (bool, error)
	CompleteJob(ctx context.Context, jobID JobID, previewURL string, fullURL string) error
	FailJob(ctx context.Context, jobID JobID, message string) error
	DeleteJob(ctx context.Context, jobID JobID) error
	CountActiveJobs(ctx context.Context, ownerID OwnerID, atUnixUTC int64) (int64, error)
	ListActiveJobs(ctx context.Context, ownerID OwnerID, atUnixUTC int64, limit int) ([]Job, error)
	ListExpiredJobs(ctx context.Context, atUnixUTC int64, limit int) ([]Job, error)
	ListFailedJobsBefore(ctx context.Context, cutoffUnixUTC int64, limit int) ([]Job, error)
}
