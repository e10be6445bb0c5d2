package enhancer

import (
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

// RemoteError is a non-success answer from the provider.
type RemoteError struct {
	Operation string
	Code      int
	Message   string
}

func (err *RemoteError) Error() string {
	return fmt.Sprintf("enhancer %s error (code=%d): %s", err.Operation, err.Code, err.Message)
}

func (err *RemoteError) Unwrap() error {
	return restoration.ErrRemote
}

// TimeoutError reports that polling ran past its wall-clock ceiling.
type TimeoutError struct {
	TaskID    string
	LastState Outcome
	Elapsed   time.Duration
}

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("enhancer timeout waiting for task %s after %s (last_state=%s)", err.TaskID, err.Elapsed.Round(time.Second), err.LastState)
}

func (err *TimeoutError) Unwrap() error {
	return restoration.ErrTimeout
}
