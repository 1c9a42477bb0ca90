package types

import "fmt"

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a persisted value back into a Status.
// Unknown values are an error rather than a silent fallthrough.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusProcessing:
		return false
	default:
		panic(fmt.Sprintf("unhandled status %q", string(s)))
	}
}

// Active reports whether the job still occupies its video.
func (s Status) Active() bool {
	return !s.Terminal()
}

// CanTransition reports whether s -> to is a legal edge:
// pending -> processing -> {completed, failed}.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

// CheckTransition returns ErrInvalidTransition for illegal edges.
func CheckTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
