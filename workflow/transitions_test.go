package workflow

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusBacklog, StatusReady},
		{StatusBacklog, StatusBlocked},
		{StatusReady, StatusInProgress},
		{StatusReady, StatusBacklog},
		{StatusReady, StatusBlocked},
		{StatusInProgress, StatusReview},
		{StatusInProgress, StatusBlocked},
		{StatusInProgress, StatusDone},
		{StatusInProgress, StatusReady},
		{StatusReview, StatusDone},
		{StatusReview, StatusInProgress},
		{StatusReview, StatusBlocked},
		{StatusBlocked, StatusReady},
		{StatusBlocked, StatusBacklog},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to Status }{
		{StatusBacklog, StatusInProgress},
		{StatusBacklog, StatusDone},
		{StatusBacklog, StatusReview},
		{StatusReady, StatusDone},
		{StatusReady, StatusReview},
		{StatusReview, StatusBacklog},
		{StatusReview, StatusReady},
		{StatusBlocked, StatusInProgress},
		{StatusBlocked, StatusDone},
		{StatusBlocked, StatusReview},
		{StatusDone, StatusBacklog},
		{StatusDone, StatusReady},
		{StatusDone, StatusInProgress},
		{StatusDone, StatusReview},
		{StatusDone, StatusBlocked},
		{StatusBacklog, StatusBacklog},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestApplyTransitionTimestamps(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "t1", Status: StatusReady}

	if err := ApplyTransition(task, StatusInProgress, now); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if task.StartedAt != now {
		t.Errorf("startedAt = %v, want %v", task.StartedAt, now)
	}

	// Bounce through ready and back: StartedAt is set only once
	later := now.Add(time.Hour)
	if err := ApplyTransition(task, StatusReady, later); err != nil {
		t.Fatalf("back to ready: %v", err)
	}
	if err := ApplyTransition(task, StatusInProgress, later); err != nil {
		t.Fatalf("to in_progress again: %v", err)
	}
	if task.StartedAt != now {
		t.Errorf("startedAt moved to %v on re-entry", task.StartedAt)
	}

	if err := ApplyTransition(task, StatusDone, later); err != nil {
		t.Fatalf("to done: %v", err)
	}
	if task.CompletedAt != later {
		t.Errorf("completedAt = %v, want %v", task.CompletedAt, later)
	}
	if task.UpdatedAt != later {
		t.Errorf("updatedAt = %v, want %v", task.UpdatedAt, later)
	}
}

func TestApplyTransitionRejected(t *testing.T) {
	task := &Task{ID: "t1", Status: StatusDone}
	err := ApplyTransition(task, StatusReady, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("err is not *TransitionError")
	}
	if te.From != StatusDone || te.To != StatusReady {
		t.Errorf("te = %+v", te)
	}
	if task.Status != StatusDone {
		t.Errorf("status mutated to %s on rejected transition", task.Status)
	}
}

func TestApplyTransitionUnknownStatus(t *testing.T) {
	task := &Task{ID: "t1", Status: StatusBacklog}
	err := ApplyTransition(task, Status("archived"), time.Now())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestAllowedFrom(t *testing.T) {
	if got := AllowedFrom(StatusDone); len(got) != 0 {
		t.Errorf("done should be terminal, got %v", got)
	}
	if got := AllowedFrom(StatusInProgress); len(got) != 4 {
		t.Errorf("in_progress targets = %v, want 4", got)
	}
}
