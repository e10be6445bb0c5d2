// Package sweeper removes expired and stale failed restoration jobs together with their stored artifacts.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultExpiredSchedule runs the expired pass daily at 02:00 UTC.
	DefaultExpiredSchedule = "0 2 * * *"
	// DefaultFailedSchedule runs the stale-failed pass daily at 03:00 UTC.
	DefaultFailedSchedule = "0 3 * * *"
	// DefaultFailedAge is how long failed jobs are kept for inspection.
	DefaultFailedAge = 24 * time.Hour

	defaultBatchSize = 200

	passExpired = "expired"
	passFailed  = "failed"
)

// Jobs is the job service surface the sweeper needs.
type Jobs interface {
	ListExpired(ctx context.Context, limit int) ([]restoration.Job, error)
	ListFailedOlderThan(ctx context.Context, ageSeconds int64, limit int) ([]restoration.Job, error)
	Delete(ctx context.Context, jobID restoration.JobID) error
}

// Report summarizes one pass.
type Report struct {
	Pass           string
	Scanned        int
	Deleted        int
	ArtifactErrors int
}

// Sweeper deletes jobs and releases their artifacts best-effort.
type Sweeper struct {
	jobs      Jobs
	blobs     blobstore.Store
	logger    *zap.Logger
	batchSize int
	failedAge time.Duration
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithBatchSize bounds how many jobs a single listing returns.
func WithBatchSize(size int) Option {
	return func(sweeper *Sweeper) {
		if size > 0 {
			sweeper.batchSize = size
		}
	}
}

// WithFailedAge overrides the retention of failed jobs.
func WithFailedAge(age time.Duration) Option {
	return func(sweeper *Sweeper) {
		if age > 0 {
			sweeper.failedAge = age
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(sweeper *Sweeper) {
		if logger != nil {
			sweeper.logger = logger
		}
	}
}

// New wires a Sweeper.
func New(jobs Jobs, blobs blobstore.Store, options ...Option) (*Sweeper, error) {
	if jobs == nil || blobs == nil {
		return nil, fmt.Errorf("%w: sweeper dependencies are required", restoration.ErrInvalidServiceConfig)
	}
	sweeper := &Sweeper{
		jobs:      jobs,
		blobs:     blobs,
		logger:    zap.NewNop(),
		batchSize: defaultBatchSize,
		failedAge: DefaultFailedAge,
	}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// SweepExpired deletes every job whose retention window has passed.
func (sweeper *Sweeper) SweepExpired(ctx context.Context) (Report, error) {
	return sweeper.sweep(ctx, passExpired, func(ctx context.Context) ([]restoration.Job, error) {
		return sweeper.jobs.ListExpired(ctx, sweeper.batchSize)
	})
}

// SweepFailed deletes failed jobs older than the configured age.
func (sweeper *Sweeper) SweepFailed(ctx context.Context) (Report, error) {
	ageSeconds := int64(sweeper.failedAge / time.Second)
	return sweeper.sweep(ctx, passFailed, func(ctx context.Context) ([]restoration.Job, error) {
		return sweeper.jobs.ListFailedOlderThan(ctx, ageSeconds, sweeper.batchSize)
	})
}

// Purge releases the job's artifacts and deletes its row.
// Artifact failures are logged and counted; only the row delete can fail the call.
func (sweeper *Sweeper) Purge(ctx context.Context, job restoration.Job) (int, error) {
	logger := sweeper.logger.With(zap.String("job_id", job.ID.String()))
	artifactErrors := 0
	for _, artifact := range artifactsOf(job) {
		if artifact.url == "" {
			continue
		}
		id, ok := sweeper.blobs.IdentifierFromURL(artifact.url)
		if !ok {
			logger.Warn("artifact url not recognized", zap.String("url", artifact.url))
			artifactErrors++
			continue
		}
		err := sweeper.blobs.Destroy(ctx, id, artifact.visibility)
		if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			logger.Warn("artifact destroy failed", zap.String("blob_id", id), zap.Error(err))
			artifactErrors++
		}
	}
	if err := sweeper.jobs.Delete(ctx, job.ID); err != nil {
		return artifactErrors, err
	}
	return artifactErrors, nil
}

// Schedule registers both passes on scheduler.
func (sweeper *Sweeper) Schedule(ctx context.Context, scheduler *cron.Cron, expiredSpec string, failedSpec string) error {
	if expiredSpec == "" {
		expiredSpec = DefaultExpiredSchedule
	}
	if failedSpec == "" {
		failedSpec = DefaultFailedSchedule
	}
	if _, err := scheduler.AddFunc(expiredSpec, sweeper.scheduled(ctx, sweeper.SweepExpired)); err != nil {
		return fmt.Errorf("%w: expired schedule %q: %v", restoration.ErrConfiguration, expiredSpec, err)
	}
	if _, err := scheduler.AddFunc(failedSpec, sweeper.scheduled(ctx, sweeper.SweepFailed)); err != nil {
		return fmt.Errorf("%w: failed schedule %q: %v", restoration.ErrConfiguration, failedSpec, err)
	}
	return nil
}

func (sweeper *Sweeper) scheduled(ctx context.Context, pass func(context.Context) (Report, error)) func() {
	return func() {
		if _, err := pass(ctx); err != nil {
			sweeper.logger.Error("sweep failed", zap.Error(err))
		}
	}
}

func (sweeper *Sweeper) sweep(ctx context.Context, pass string, list func(context.Context) ([]restoration.Job, error)) (Report, error) {
	report := Report{Pass: pass}
	for {
		jobs, err := list(ctx)
		if err != nil {
			return report, err
		}
		deletedInBatch := 0
		for _, job := range jobs {
			report.Scanned++
			artifactErrors, err := sweeper.Purge(ctx, job)
			report.ArtifactErrors += artifactErrors
			if err != nil {
				sweeper.logger.Warn("job delete failed", zap.String("job_id", job.ID.String()), zap.Error(err))
				continue
			}
			deletedInBatch++
		}
		report.Deleted += deletedInBatch
		if len(jobs) < sweeper.batchSize || deletedInBatch == 0 {
			break
		}
	}
	sweeper.logger.Info("sweep finished",
		zap.String("pass", pass),
		zap.Int("scanned", report.Scanned),
		zap.Int("deleted", report.Deleted),
		zap.Int("artifact_errors", report.ArtifactErrors))
	return report, nil
}

type artifact struct {
	url        string
	visibility blobstore.Visibility
}

func artifactsOf(job restoration.Job) []artifact {
	return []artifact{
		{url: job.OriginalURL, visibility: blobstore.VisibilityPublic},
		{url: job.PreviewURL, visibility: blobstore.VisibilityPublic},
		{url: job.FullURL, visibility: blobstore.VisibilityPrivate},
	}
}
