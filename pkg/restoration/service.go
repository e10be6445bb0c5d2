package restoration

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Service owns the job lifecycle over a Store.
type Service struct {
	store            Store
	nowFn            func() int64
	logger           OperationLogger
	newID            func() string
	retentionSeconds int64
	activeJobLimit   int
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:            store,
		nowFn:            now,
		newID:            uuid.NewString,
		retentionSeconds: DefaultRetentionSeconds,
		activeJobLimit:   DefaultActiveJobLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ActiveJobLimit reports the configured per-owner cap.
func (service *Service) ActiveJobLimit() int {
	return service.activeJobLimit
}

// Create records a pending job for the owner's uploaded original.
func (service *Service) Create(ctx context.Context, ownerID OwnerID, originalURL string) (Job, error) {
	var created Job
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		normalizedURL, err := normalizeOriginalURL(originalURL)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		activeCount, err := transactionStore.CountActiveJobs(ctx, ownerID, nowUnixUTC)
		if err != nil {
			return err
		}
		if activeCount >= int64(service.activeJobLimit) {
			return fmt.Errorf("%w: maximum %d images", ErrHistoryLimit, service.activeJobLimit)
		}
		jobID, err := NewJobID(service.newID())
		if err != nil {
			return err
		}
		job := Job{
			ID:             jobID,
			OwnerID:        ownerID,
			OriginalURL:    normalizedURL,
			Status:         StatusPending,
			UnlockMethod:   UnlockNone,
			CreatedUnixUTC: nowUnixUTC,
			ExpiresUnixUTC: nowUnixUTC + service.retentionSeconds,
		}
		if err := transactionStore.CreateJob(ctx, job); err != nil {
			return err
		}
		created = job
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		JobID:     created.ID,
		OwnerID:   ownerID,
		JobStatus: created.Status,
		Error:     operationError,
	})
	if operationError != nil {
		return Job{}, operationError
	}
	return created, nil
}

// Get returns a job by id.
func (service *Service) Get(ctx context.Context, jobID JobID) (Job, error) {
	return service.store.GetJob(ctx, jobID)
}

// GetForOwner returns a job only when it belongs to the owner.
func (service *Service) GetForOwner(ctx context.Context, ownerID OwnerID, jobID JobID) (Job, error) {
	job, err := service.store.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.OwnerID != ownerID {
		return Job{}, WrapError("service", "job", "owner_mismatch", ErrJobNotFound)
	}
	return job, nil
}

// FindByTaskID resolves the job that a provider task belongs to.
func (service *Service) FindByTaskID(ctx context.Context, taskID TaskID) (Job, error) {
	return service.store.FindJobByTaskID(ctx, taskID)
}

// AttachTask persists the provider task id on the job.
func (service *Service) AttachTask(ctx context.Context, jobID JobID, taskID TaskID) error {
	operationError := service.store.AttachTask(ctx, jobID, taskID)
	service.logOperation(ctx, OperationLog{
		Operation: operationAttachTask,
		JobID:     jobID,
		TaskID:    taskID,
		Error:     operationError,
	})
	return operationError
}

// TransitionToProcessing moves a pending job to processing.
// It reports false when another caller already moved the job.
func (service *Service) TransitionToProcessing(ctx context.Context, jobID JobID) (bool, error) {
	moved, operationError := service.store.UpdateStatus(ctx, jobID, StatusPending, StatusProcessing)
	entry := OperationLog{
		Operation: operationTransitionToProcessing,
		JobID:     jobID,
		JobStatus: StatusProcessing,
		Error:     operationError,
	}
	if operationError == nil && !moved {
		entry.Status = operationStatusSkipped
	}
	service.logOperation(ctx, entry)
	return moved, operationError
}

// MarkCompleted stores the result artifacts under a row lock.
// It reports false when the job was already completed by a concurrent finalizer.
func (service *Service) MarkCompleted(ctx context.Context, jobID JobID, previewURL string, fullURL string) (bool, error) {
	won := false
	var taskID TaskID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		job, err := transactionStore.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		taskID = job.TaskID
		if job.IsFinalized() {
			return nil
		}
		if err := transactionStore.CompleteJob(ctx, jobID, previewURL, fullURL); err != nil {
			return err
		}
		won = true
		return nil
	})
	entry := OperationLog{
		Operation: operationMarkCompleted,
		JobID:     jobID,
		TaskID:    taskID,
		JobStatus: StatusCompleted,
		Error:     operationError,
	}
	if operationError == nil && !won {
		entry.Status = operationStatusSkipped
	}
	service.logOperation(ctx, entry)
	return won, operationError
}

// MarkFailed records a failure message without taking the row lock.
func (service *Service) MarkFailed(ctx context.Context, jobID JobID, message string) error {
	operationError := service.store.FailJob(ctx, jobID, truncateMessage(message))
	service.logOperation(ctx, OperationLog{
		Operation: operationMarkFailed,
		JobID:     jobID,
		JobStatus: StatusFailed,
		Error:     operationError,
	})
	return operationError
}

// Delete removes the job row. Artifact cleanup is the caller's concern.
func (service *Service) Delete(ctx context.Context, jobID JobID) error {
	operationError := service.store.DeleteJob(ctx, jobID)
	service.logOperation(ctx, OperationLog{
		Operation: operationDelete,
		JobID:     jobID,
		Error:     operationError,
	})
	return operationError
}

// History lists the owner's unexpired jobs, newest first.
func (service *Service) History(ctx context.Context, ownerID OwnerID) ([]Job, error) {
	return service.store.ListActiveJobs(ctx, ownerID, service.nowFn(), service.activeJobLimit)
}

// ListExpired returns jobs whose retention window has passed.
func (service *Service) ListExpired(ctx context.Context, limit int) ([]Job, error) {
	return service.store.ListExpiredJobs(ctx, service.nowFn(), limit)
}

// ListFailedOlderThan returns failed jobs created more than ageSeconds ago.
func (service *Service) ListFailedOlderThan(ctx context.Context, ageSeconds int64, limit int) ([]Job, error) {
	return service.store.ListFailedJobsBefore(ctx, service.nowFn()-ageSeconds, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func normalizeOriginalURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidOriginalURL)
	}
	if _, err := url.Parse(trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOriginalURL, err)
	}
	return trimmed, nil
}

func truncateMessage(message string) string {
	trimmed := strings.TrimSpace(message)
	if len(trimmed) <= maxErrorMessageLength {
		return trimmed
	}
	return trimmed[:maxErrorMessageLength]
}
