package workflow

import "testing"

func TestEpicProgress(t *testing.T) {
	mk := func(statuses ...Status) []Task {
		tasks := make([]Task, len(statuses))
		for i, s := range statuses {
			tasks[i] = Task{Status: s}
		}
		return tasks
	}

	cases := []struct {
		name  string
		tasks []Task
		want  int
	}{
		{"empty", nil, 0},
		{"none done", mk(StatusBacklog, StatusReady), 0},
		{"half", mk(StatusDone, StatusInProgress), 50},
		{"third rounds", mk(StatusDone, StatusReady, StatusReady), 33},
		{"two thirds rounds", mk(StatusDone, StatusDone, StatusReady), 67},
		{"all done", mk(StatusDone, StatusDone), 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EpicProgress(tc.tasks); got != tc.want {
				t.Errorf("progress = %d, want %d", got, tc.want)
			}
		})
	}
}
