package course_archiver

// TaskState is the lifecycle state of one download task.
type TaskState string

const (
	TaskStateUndefined    TaskState = ""
	TaskStatePending      TaskState = "pending"
	TaskStateResolving    TaskState = "resolving"
	TaskStateQueued       TaskState = "queued"
	TaskStateTransferring TaskState = "transferring"
	TaskStateVerifying    TaskState = "verifying"
	TaskStateCompleted    TaskState = "completed"
	TaskStateFailed       TaskState = "failed"
	TaskStateCancelled    TaskState = "cancelled"
)

// IsTerminal returns true for states a task never leaves.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}
