package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/reviv/internal/blobstore"
	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/internal/imaging"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFailMessage      = "Enhancement task failed"
	missingResultsMessage   = "Enhancement succeeded but no result URLs were found"
	contentTypePNG          = "image/png"
	contentTypeJPEG         = "image/jpeg"
	extensionPNG            = "png"
	extensionJPEG           = "jpg"
	errorOperationFinalizer = "finalizer"
)

// Jobs is the slice of the job service the orchestrator drives.
type Jobs interface {
	FindByTaskID(ctx context.Context, taskID restoration.TaskID) (restoration.Job, error)
	AttachTask(ctx context.Context, jobID restoration.JobID, taskID restoration.TaskID) error
	TransitionToProcessing(ctx context.Context, jobID restoration.JobID) (bool, error)
	MarkCompleted(ctx context.Context, jobID restoration.JobID, previewURL string, fullURL string) (bool, error)
	MarkFailed(ctx context.Context, jobID restoration.JobID, message string) error
}

// TaskClient is the provider surface used for submission and status queries.
type TaskClient interface {
	CreateTask(ctx context.Context, request enhancer.TaskRequest) (restoration.TaskID, error)
	RecordInfo(ctx context.Context, taskID restoration.TaskID) (enhancer.Detail, error)
	UsesCallback() bool
}

// Waiter blocks until the provider reports a terminal state.
type Waiter interface {
	Wait(ctx context.Context, taskID restoration.TaskID) (enhancer.Detail, error)
}

// Fetcher downloads result bytes.
type Fetcher interface {
	Fetch(ctx context.Context, resultURL string) ([]byte, error)
}

// Renderer turns provider output into stored artifacts.
type Renderer interface {
	Render(data []byte) (imaging.Artifacts, error)
}

// Finalizer resolves a provider task into a terminal job state exactly once.
type Finalizer struct {
	jobs     Jobs
	client   TaskClient
	waiter   Waiter
	fetcher  Fetcher
	renderer Renderer
	blobs    blobstore.Store
	logger   *zap.Logger
	queries  singleflight.Group
}

// NewFinalizer wires a Finalizer.
func NewFinalizer(jobs Jobs, client TaskClient, waiter Waiter, fetcher Fetcher, renderer Renderer, blobs blobstore.Store, logger *zap.Logger) (*Finalizer, error) {
	if jobs == nil || client == nil || waiter == nil || fetcher == nil || renderer == nil || blobs == nil {
		return nil, fmt.Errorf("%w: finalizer dependencies are required", restoration.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		jobs:     jobs,
		client:   client,
		waiter:   waiter,
		fetcher:  fetcher,
		renderer: renderer,
		blobs:    blobs,
		logger:   logger,
	}, nil
}

// Finalize reconciles taskID. A nil payload means "poll for the result".
// Unknown tasks and already finalized jobs are no-ops; every other failure is persisted on the job.
func (finalizer *Finalizer) Finalize(ctx context.Context, taskID restoration.TaskID, payload map[string]any) error {
	job, err := finalizer.jobs.FindByTaskID(ctx, taskID)
	if errors.Is(err, restoration.ErrJobNotFound) {
		finalizer.logger.Info("finalize ignored unknown task", zap.String("task_id", taskID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if job.IsFinalized() {
		return nil
	}
	logger := finalizer.logger.With(zap.String("task_id", taskID.String()), zap.String("job_id", job.ID.String()))

	detail, err := finalizer.resolve(ctx, taskID, payload)
	if err != nil {
		return finalizer.fail(ctx, logger, job.ID, err.Error(), err)
	}
	if detail.Outcome == enhancer.OutcomeFail {
		message := detail.FailMessage
		if message == "" {
			message = defaultFailMessage
		}
		return finalizer.fail(ctx, logger, job.ID, message, nil)
	}
	if err := finalizer.complete(ctx, logger, job.ID, detail); err != nil {
		return finalizer.fail(ctx, logger, job.ID, err.Error(), err)
	}
	return nil
}

// resolve applies the callback decision table; without a payload it polls.
func (finalizer *Finalizer) resolve(ctx context.Context, taskID restoration.TaskID, payload map[string]any) (enhancer.Detail, error) {
	if payload == nil {
		return finalizer.await(ctx, taskID)
	}
	detail := enhancer.NormalizeDetail(taskID.String(), payload)
	switch {
	case detail.Outcome == enhancer.OutcomeFail:
		return detail, nil
	case detail.HasResults():
		detail.Outcome = enhancer.OutcomeSuccess
		return detail, nil
	}
	live, err := finalizer.liveDetail(ctx, taskID)
	if err != nil {
		return enhancer.Detail{}, err
	}
	if live.Outcome == enhancer.OutcomeFail || (live.Outcome == enhancer.OutcomeSuccess && live.HasResults()) {
		return live, nil
	}
	return finalizer.await(ctx, taskID)
}

func (finalizer *Finalizer) await(ctx context.Context, taskID restoration.TaskID) (enhancer.Detail, error) {
	detail, err := finalizer.waiter.Wait(ctx, taskID)
	if err != nil {
		return enhancer.Detail{}, err
	}
	if detail.Outcome == enhancer.OutcomeSuccess && !detail.HasResults() {
		return enhancer.Detail{}, errors.New(missingResultsMessage)
	}
	return detail, nil
}

// liveDetail shares one in-flight status query per task between concurrent finalizers.
func (finalizer *Finalizer) liveDetail(ctx context.Context, taskID restoration.TaskID) (enhancer.Detail, error) {
	value, err, _ := finalizer.queries.Do(taskID.String(), func() (any, error) {
		return finalizer.client.RecordInfo(ctx, taskID)
	})
	if err != nil {
		return enhancer.Detail{}, err
	}
	return value.(enhancer.Detail), nil
}

func (finalizer *Finalizer) complete(ctx context.Context, logger *zap.Logger, jobID restoration.JobID, detail enhancer.Detail) error {
	raw, err := finalizer.fetcher.Fetch(ctx, detail.ResultURLs[0])
	if err != nil {
		return err
	}
	artifacts, err := finalizer.renderer.Render(raw)
	if err != nil {
		return err
	}
	preview, err := finalizer.blobs.Upload(ctx, artifacts.Preview, blobstore.UploadOptions{
		Folder:      blobstore.FolderPreviews,
		Visibility:  blobstore.VisibilityPublic,
		ContentType: contentTypeJPEG,
		Extension:   extensionJPEG,
	})
	if err != nil {
		return restoration.WrapError(errorOperationFinalizer, "preview", "upload", err)
	}
	full, err := finalizer.blobs.Upload(ctx, artifacts.Full, blobstore.UploadOptions{
		Folder:      blobstore.FolderFull,
		Visibility:  blobstore.VisibilityPrivate,
		ContentType: contentTypePNG,
		Extension:   extensionPNG,
	})
	if err != nil {
		finalizer.destroy(ctx, logger, preview.ID, blobstore.VisibilityPublic)
		return restoration.WrapError(errorOperationFinalizer, "full", "upload", err)
	}
	won, err := finalizer.jobs.MarkCompleted(ctx, jobID, preview.URL, full.URL)
	if err != nil {
		finalizer.destroy(ctx, logger, preview.ID, blobstore.VisibilityPublic)
		finalizer.destroy(ctx, logger, full.ID, blobstore.VisibilityPrivate)
		return err
	}
	if !won {
		logger.Info("finalize lost the completion race")
		finalizer.destroy(ctx, logger, preview.ID, blobstore.VisibilityPublic)
		finalizer.destroy(ctx, logger, full.ID, blobstore.VisibilityPrivate)
		return nil
	}
	logger.Info("job completed", zap.String("preview_url", preview.URL))
	return nil
}

func (finalizer *Finalizer) fail(ctx context.Context, logger *zap.Logger, jobID restoration.JobID, message string, cause error) error {
	if err := finalizer.jobs.MarkFailed(ctx, jobID, message); err != nil {
		logger.Error("mark failed did not persist", zap.Error(err))
		return errors.Join(cause, err)
	}
	logger.Warn("job failed", zap.String("message", message), zap.Error(cause))
	return cause
}

func (finalizer *Finalizer) destroy(ctx context.Context, logger *zap.Logger, id string, visibility blobstore.Visibility) {
	if err := finalizer.blobs.Destroy(ctx, id, visibility); err != nil {
		logger.Warn("artifact cleanup failed", zap.String("blob_id", id), zap.Error(err))
	}
}
