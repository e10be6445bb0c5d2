package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore implements restoration.Store using GORM.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore returns a JobStore backed by gorm.DB.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *JobStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore restoration.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &JobStore{db: transaction})
	})
}

func (store *JobStore) CreateJob(ctx context.Context, job restoration.Job) error {
	row := RestorationJob{
		JobID:        job.ID.String(),
		OwnerID:      job.OwnerID.String(),
		OriginalURL:  job.OriginalURL,
		Status:       job.Status.String(),
		UnlockMethod: restoration.UnlockNone.String(),
		CreatedAt:    unixTime(job.CreatedUnixUTC),
		ExpiresAt:    unixTime(job.ExpiresUnixUTC),
	}
	if job.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	if !job.TaskID.IsZero() {
		taskID := job.TaskID.String()
		row.TaskID = &taskID
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeCreate, err)
	}
	return nil
}

func (store *JobStore) GetJob(ctx context.Context, jobID restoration.JobID) (restoration.Job, error) {
	return store.takeJob(store.db.WithContext(ctx), jobID, errorCodeGet)
}

// LockJob reads the job under a row lock. SQLite ignores the locking clause and serializes writers instead.
func (store *JobStore) LockJob(ctx context.Context, jobID restoration.JobID) (restoration.Job, error) {
	return store.takeJob(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), jobID, errorCodeLock)
}

func (store *JobStore) takeJob(query *gorm.DB, jobID restoration.JobID, code string) (restoration.Job, error) {
	var row RestorationJob
	err := query.Where("job_id = ?", jobID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, code, restoration.ErrJobNotFound)
	}
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, code, err)
	}
	job, err := mapJob(row)
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	return job, nil
}

func (store *JobStore) FindJobByTaskID(ctx context.Context, taskID restoration.TaskID) (restoration.Job, error) {
	var row RestorationJob
	err := store.db.WithContext(ctx).Where("task_id = ?", taskID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, errorCodeLookup, restoration.ErrJobNotFound)
	}
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, errorCodeLookup, err)
	}
	job, err := mapJob(row)
	if err != nil {
		return restoration.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	return job, nil
}

func (store *JobStore) AttachTask(ctx context.Context, jobID restoration.JobID, taskID restoration.TaskID) error {
	result := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("job_id = ?", jobID.String()).
		Update("task_id", taskID.String())
	if isUniqueViolation(result.Error, constraintJobTaskID) {
		return wrapStoreError(errorSubjectJob, errorCodeDuplicate, result.Error)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeAttachTask, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeAttachTask, restoration.ErrJobNotFound)
	}
	return nil
}

func (store *JobStore) UpdateStatus(ctx context.Context, jobID restoration.JobID, from restoration.Status, to restoration.Status) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("job_id = ? AND status = ?", jobID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectJob, errorCodeUpdateStatus, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *JobStore) CompleteJob(ctx context.Context, jobID restoration.JobID, previewURL string, fullURL string) error {
	result := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("job_id = ?", jobID.String()).
		Updates(map[string]any{
			"status":        restoration.StatusCompleted.String(),
			"preview_url":   previewURL,
			"full_url":      fullURL,
			"error_message": "",
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeComplete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeComplete, restoration.ErrJobNotFound)
	}
	return nil
}

// FailJob never overwrites a completed job.
func (store *JobStore) FailJob(ctx context.Context, jobID restoration.JobID, message string) error {
	err := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("job_id = ? AND status <> ?", jobID.String(), restoration.StatusCompleted.String()).
		Updates(map[string]any{
			"status":        restoration.StatusFailed.String(),
			"error_message": message,
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeFail, err)
	}
	return nil
}

func (store *JobStore) DeleteJob(ctx context.Context, jobID restoration.JobID) error {
	if err := store.db.WithContext(ctx).Where("job_id = ?", jobID.String()).Delete(&RestorationJob{}).Error; err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeDelete, err)
	}
	return nil
}

func (store *JobStore) CountActiveJobs(ctx context.Context, ownerID restoration.OwnerID, atUnixUTC int64) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&RestorationJob{}).
		Where("owner_id = ? AND expires_at > ?", ownerID.String(), unixTime(atUnixUTC)).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectJob, errorCodeCount, err)
	}
	return count, nil
}

func (store *JobStore) ListActiveJobs(ctx context.Context, ownerID restoration.OwnerID, atUnixUTC int64, limit int) ([]restoration.Job, error) {
	query := store.db.WithContext(ctx).
		Where("owner_id = ? AND expires_at > ?", ownerID.String(), unixTime(atUnixUTC))
	return store.listJobs(query, limit)
}

func (store *JobStore) ListExpiredJobs(ctx context.Context, atUnixUTC int64, limit int) ([]restoration.Job, error) {
	query := store.db.WithContext(ctx).Where("expires_at < ?", unixTime(atUnixUTC))
	return store.listJobs(query, limit)
}

func (store *JobStore) ListFailedJobsBefore(ctx context.Context, cutoffUnixUTC int64, limit int) ([]restoration.Job, error) {
	query := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", restoration.StatusFailed.String(), unixTime(cutoffUnixUTC))
	return store.listJobs(query, limit)
}

func (store *JobStore) listJobs(query *gorm.DB, limit int) ([]restoration.Job, error) {
	query = query.Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []RestorationJob
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectJob, errorCodeList, err)
	}
	return mapJobs(rows)
}
