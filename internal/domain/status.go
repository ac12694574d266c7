package domain

// ProcessingStatus represents the lifecycle state of an image job.
// Values include StatusPending, StatusQueued, StatusProcessing,
// StatusCompleted, StatusFailed, and StatusCancelled. No other states exist.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusQueued     ProcessingStatus = "QUEUED"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
	StatusCancelled  ProcessingStatus = "CANCELLED"
)

// statusTransitions is the monotonic transition table. A status may only move
// forward; terminal states have no outgoing edges. CANCELLED is an
// administrative override reachable from any non-terminal state.
var statusTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusQueued, StatusProcessing, StatusCancelled},
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {StatusProcessing},
	StatusCancelled:  {},
}

// Valid reports whether s is one of the closed set of statuses.
func (s ProcessingStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
// FAILED back to PROCESSING is the single permitted re-entry, used by the
// retry layer while the attempt ceiling has not been reached.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no pipeline-driven transitions.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Label returns a human-readable label for the status.
func (s ProcessingStatus) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusQueued:
		return "Queued"
	case StatusProcessing:
		return "Processing"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
