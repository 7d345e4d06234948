package workflow

import "time"

// allowedTransitions is the status adjacency table. done is terminal and
// has no outgoing edges.
var allowedTransitions = map[Status][]Status{
	StatusBacklog:    {StatusReady, StatusBlocked},
	StatusReady:      {StatusInProgress, StatusBacklog, StatusBlocked},
	StatusInProgress: {StatusReview, StatusBlocked, StatusDone, StatusReady},
	StatusReview:     {StatusDone, StatusInProgress, StatusBlocked},
	StatusBlocked:    {StatusReady, StatusBacklog},
	StatusDone:       {},
}

// ValidStatus reports whether s is a defined status.
func ValidStatus(s Status) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is in the allowed table.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses reachable in one step from s.
func AllowedFrom(s Status) []Status {
	next := allowedTransitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// ApplyTransition validates and applies a status change on the task,
// updating lifecycle timestamps. The caller persists the task and runs
// derived effects (epic recompute, workload counters).
func ApplyTransition(t *Task, to Status, now time.Time) error {
	if !ValidStatus(to) {
		return &ValidationError{Field: "status", Value: string(to), Reason: "unknown status"}
	}
	if !CanTransition(t.Status, to) {
		return &TransitionError{TaskID: t.ID, From: t.Status, To: to}
	}

	t.Status = to
	t.UpdatedAt = now

	// StartedAt records the first entry into in_progress only.
	if to == StatusInProgress && t.StartedAt.IsZero() {
		t.StartedAt = now
	}
	if to == StatusDone {
		t.CompletedAt = now
	}
	return nil
}
