// Package orchestrator submits restoration jobs to the enhancement provider and reconciles their results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/reviv/internal/enhancer"
	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"go.uber.org/zap"
)

// ErrMissingTaskID is returned for callbacks that carry no recognizable task id.
var ErrMissingTaskID = errors.New("callback payload missing task id")

const startKeyPrefix = "start:"

// Orchestrator starts provider tasks and routes reconciliation to the executor.
type Orchestrator struct {
	jobs          Jobs
	client        TaskClient
	finalizer     *Finalizer
	executor      Executor
	publicBaseURL string
	prompt        string
	logger        *zap.Logger
}

// Config holds orchestration settings.
type Config struct {
	PublicBaseURL string
	Prompt        string
}

// New wires an Orchestrator.
func New(jobs Jobs, client TaskClient, finalizer *Finalizer, executor Executor, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if jobs == nil || client == nil || finalizer == nil || executor == nil {
		return nil, fmt.Errorf("%w: orchestrator dependencies are required", restoration.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt := config.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Orchestrator{
		jobs:          jobs,
		client:        client,
		finalizer:     finalizer,
		executor:      executor,
		publicBaseURL: config.PublicBaseURL,
		prompt:        prompt,
		logger:        logger,
	}, nil
}

// Enqueue schedules Start for a freshly created job on the executor.
// A job that cannot be queued is marked failed so it never stays pending.
func (orchestrator *Orchestrator) Enqueue(ctx context.Context, job restoration.Job) error {
	_, err := orchestrator.executor.Submit(startKeyPrefix+job.ID.String(), func(ctx context.Context) {
		if _, err := orchestrator.Start(ctx, job); err != nil {
			orchestrator.logger.Warn("start failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	})
	if err != nil {
		logger := orchestrator.logger.With(zap.String("job_id", job.ID.String()))
		return orchestrator.failStart(ctx, logger, job.ID, err)
	}
	return nil
}

// Start submits the job's original to the provider and, without a callback url, schedules polling.
// Failures are persisted on the job before being returned.
func (orchestrator *Orchestrator) Start(ctx context.Context, job restoration.Job) (restoration.TaskID, error) {
	logger := orchestrator.logger.With(zap.String("job_id", job.ID.String()))
	imageURL, err := ResolvePublicURL(job.OriginalURL, orchestrator.publicBaseURL)
	if err != nil {
		return restoration.TaskID{}, orchestrator.failStart(ctx, logger, job.ID, err)
	}
	taskID, err := orchestrator.client.CreateTask(ctx, enhancer.TaskRequest{Prompt: orchestrator.prompt, ImageURL: imageURL})
	if err != nil {
		return restoration.TaskID{}, orchestrator.failStart(ctx, logger, job.ID, err)
	}
	logger = logger.With(zap.String("task_id", taskID.String()))
	if err := orchestrator.jobs.AttachTask(ctx, job.ID, taskID); err != nil {
		return taskID, orchestrator.failStart(ctx, logger, job.ID, err)
	}
	moved, err := orchestrator.jobs.TransitionToProcessing(ctx, job.ID)
	if err != nil {
		return taskID, orchestrator.failStart(ctx, logger, job.ID, err)
	}
	if !moved {
		logger.Info("start abandoned; job already left pending")
		return taskID, nil
	}
	if orchestrator.client.UsesCallback() {
		logger.Info("task submitted; awaiting callback")
		return taskID, nil
	}
	if err := orchestrator.SchedulePoll(taskID); err != nil {
		return taskID, orchestrator.failStart(ctx, logger, job.ID, err)
	}
	return taskID, nil
}

// SchedulePoll queues a polling reconciliation for taskID.
func (orchestrator *Orchestrator) SchedulePoll(taskID restoration.TaskID) error {
	return orchestrator.submitFinalize(taskID, nil)
}

// HandleCallback queues reconciliation for a provider notification and returns immediately.
// ErrQueueFull means the notification was not accepted and should be redelivered.
func (orchestrator *Orchestrator) HandleCallback(payload map[string]any) (restoration.TaskID, error) {
	taskID, err := restoration.NewTaskID(enhancer.ExtractTaskID(payload))
	if err != nil {
		return restoration.TaskID{}, ErrMissingTaskID
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if err := orchestrator.submitFinalize(taskID, payload); err != nil {
		return taskID, err
	}
	return taskID, nil
}

func (orchestrator *Orchestrator) submitFinalize(taskID restoration.TaskID, payload map[string]any) error {
	_, err := orchestrator.executor.Submit(taskID.String(), func(ctx context.Context) {
		if err := orchestrator.finalizer.Finalize(ctx, taskID, payload); err != nil {
			orchestrator.logger.Warn("finalize failed", zap.String("task_id", taskID.String()), zap.Error(err))
		}
	})
	return err
}

func (orchestrator *Orchestrator) failStart(ctx context.Context, logger *zap.Logger, jobID restoration.JobID, cause error) error {
	if err := orchestrator.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		logger.Error("mark failed did not persist", zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}
