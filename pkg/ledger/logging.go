package ledger

import (
	"context"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation     string
	OwnerID       restoration.OwnerID
	JobID         restoration.JobID
	PaymentRef    PaymentRef
	AmountCredits int64
	Status        string
	Error         error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithShareFlow enables the social-share unlock protocol.
func WithShareFlow(states ShareStateStore, tokens *ShareTokenSigner, links ShareLinks) ServiceOption {
	return func(service *Service) {
		service.shareStates = states
		service.shareTokens = tokens
		service.shareLinks = links
	}
}

// WithShareConfirmDelay requires a minimum gap between redirect and confirmation.
func WithShareConfirmDelay(seconds int64) ServiceOption {
	return func(service *Service) {
		if seconds > 0 {
			service.confirmDelaySeconds = seconds
		}
	}
}
