package restoration

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the restoration service.
var (
	ErrJobNotFound          = errors.New("job not found")
	ErrHistoryLimit         = errors.New("active job limit reached")
	ErrInvalidJobID         = errors.New("invalid job id")
	ErrInvalidOwnerID       = errors.New("invalid owner id")
	ErrInvalidTaskID        = errors.New("invalid task id")
	ErrInvalidStatus        = errors.New("invalid job status")
	ErrInvalidUnlockMethod  = errors.New("invalid unlock method")
	ErrInvalidOriginalURL   = errors.New("invalid original url")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// Failure classes surfaced while driving a job through the enhancement provider.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrRemote        = errors.New("remote provider error")
	ErrValidation    = errors.New("validation error")
	ErrTimeout       = errors.New("timed out")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
