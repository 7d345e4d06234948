package workflow

import "math"

// EpicProgress computes rollup progress for an epic from its member tasks:
// round(done / total * 100). An epic with no tasks has progress 0.
func EpicProgress(tasks []Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for i := range tasks {
		if tasks[i].Status == StatusDone {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(tasks)) * 100))
}
