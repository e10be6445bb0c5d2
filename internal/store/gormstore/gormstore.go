package gormstore

import (
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintPaymentRef  = "uniq_ledger_payment_ref"
	constraintJobTaskID   = "uniq_jobs_task_id"
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	lockStrengthUpdate    = "UPDATE"
	errorOperationStore   = "store"
	errorSubjectJob       = "job"
	errorSubjectOwner     = "owner"
	errorSubjectEntry     = "entry"
	errorSubjectPack      = "credit_pack"
	errorCodeAttachTask   = "attach_task"
	errorCodeComplete     = "complete"
	errorCodeCount        = "count"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeDuplicate    = "duplicate"
	errorCodeFail         = "fail"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLock         = "lock"
	errorCodeLookup       = "lookup"
	errorCodeUnlock       = "unlock"
	errorCodeUpdate       = "update"
	errorCodeUpdateStatus = "update_status"
)

func wrapStoreError(subject string, code string, err error) error {
	return restoration.WrapError(errorOperationStore, subject, code, err)
}

func mapJob(row RestorationJob) (restoration.Job, error) {
	jobID, err := restoration.NewJobID(row.JobID)
	if err != nil {
		return restoration.Job{}, err
	}
	ownerID, err := restoration.NewOwnerID(row.OwnerID)
	if err != nil {
		return restoration.Job{}, err
	}
	status, err := restoration.ParseStatus(row.Status)
	if err != nil {
		return restoration.Job{}, err
	}
	unlockMethod, err := restoration.ParseUnlockMethod(row.UnlockMethod)
	if err != nil {
		return restoration.Job{}, err
	}
	var taskID restoration.TaskID
	if row.TaskID != nil {
		taskID, err = restoration.NewTaskID(*row.TaskID)
		if err != nil {
			return restoration.Job{}, err
		}
	}
	return restoration.Job{
		ID:              jobID,
		OwnerID:         ownerID,
		OriginalURL:     row.OriginalURL,
		PreviewURL:      row.PreviewURL,
		FullURL:         row.FullURL,
		TaskID:          taskID,
		Status:          status,
		UnlockMethod:    unlockMethod,
		UnlockedUnixUTC: timeOrZero(row.UnlockedAt),
		ErrorMessage:    row.ErrorMessage,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
		ExpiresUnixUTC:  row.ExpiresAt.Unix(),
	}, nil
}

func mapJobs(rows []RestorationJob) ([]restoration.Job, error) {
	jobs := make([]restoration.Job, 0, len(rows))
	for _, row := range rows {
		job, err := mapJob(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func unixTime(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
