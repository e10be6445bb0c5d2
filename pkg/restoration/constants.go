package restoration

const (
	operationCreate                 = "create"
	operationAttachTask             = "attach_task"
	operationTransitionToProcessing = "transition_to_processing"
	operationMarkCompleted          = "mark_completed"
	operationMarkFailed             = "mark_failed"
	operationDelete                 = "delete"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusSkipped = "skipped"

	// DefaultRetentionSeconds keeps jobs for sixty days.
	DefaultRetentionSeconds int64 = 60 * 24 * 60 * 60
	// DefaultActiveJobLimit caps unexpired jobs per owner.
	DefaultActiveJobLimit = 6

	maxErrorMessageLength = 2000
)
