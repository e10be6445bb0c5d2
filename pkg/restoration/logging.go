package restoration

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing job operation.
type OperationLog struct {
	Operation string
	JobID     JobID
	OwnerID   OwnerID
	TaskID    TaskID
	JobStatus Status
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithRetentionSeconds overrides how long a job lives after creation.
func WithRetentionSeconds(seconds int64) ServiceOption {
	return func(service *Service) {
		if seconds > 0 {
			service.retentionSeconds = seconds
		}
	}
}

// WithActiveJobLimit overrides the per-owner cap on unexpired jobs.
func WithActiveJobLimit(limit int) ServiceOption {
	return func(service *Service) {
		if limit > 0 {
			service.activeJobLimit = limit
		}
	}
}

// WithIDGenerator replaces the job id source.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
