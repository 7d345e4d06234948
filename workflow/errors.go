package workflow

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for errors.Is checks. Each concrete error type below
// matches its kind so callers can branch without unpacking.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrCircularDependency = errors.New("circular dependency")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// NotFoundError reports a missing task, epic, agent, or comment.
type NotFoundError struct {
	Entity string // "task", "epic", "agent", ...
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports malformed input against schema constraints.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError reports a status change not present in the allowed table.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: transition %s -> %s not allowed", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// CycleError reports a dependency addition that would close a cycle.
type CycleError struct {
	TaskID    string
	BlockerID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle", e.TaskID, e.BlockerID)
}

func (e *CycleError) Is(target error) bool { return target == ErrCircularDependency }

// UnauthorizedError reports an actor lacking permission for an operation.
type UnauthorizedError struct {
	Actor     Actor
	Operation string
	TaskID    string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s may not %s task %s", e.Actor.DisplayName(), e.Operation, e.TaskID)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// RateLimitError reports a denied call and when the window resets.
type RateLimitError struct {
	Key      string
	MaxCalls int
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (max %d calls, resets %s)",
		e.Key, e.MaxCalls, e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
