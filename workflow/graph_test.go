package workflow

import (
	"fmt"
	"sort"
	"testing"

	"pgregory.net/rapid"
)

// chain builds tasks where each task is blocked by the next: a <- b <- c.
func chain(ids ...string) []Task {
	tasks := make([]Task, len(ids))
	for i, id := range ids {
		tasks[i] = Task{ID: id}
		if i+1 < len(ids) {
			tasks[i].BlockedBy = []string{ids[i+1]}
		}
		if i > 0 {
			tasks[i].Blocks = []string{ids[i-1]}
		}
	}
	return tasks
}

func TestWouldCycle(t *testing.T) {
	tasks := chain("a", "b", "c")
	g := NewGraph(tasks)

	if g.WouldCycle("a", "a") {
		// Self-loops report true
	} else {
		t.Error("self-loop should cycle")
	}
	// c is transitively blocked by nothing; a depends on b depends on c.
	// Adding "c blocked by a" closes the loop.
	if !g.WouldCycle("c", "a") {
		t.Error("c <- a should close a cycle")
	}
	if !g.WouldCycle("b", "a") {
		t.Error("b <- a should close a cycle")
	}
	// The reverse direction of an existing edge chain is the cycle; new
	// independent edges are fine.
	if g.WouldCycle("a", "c") {
		t.Error("a <- c is redundant but not a cycle")
	}
	if g.WouldCycle("a", "d") {
		t.Error("edge to unknown task cannot cycle")
	}
}

func TestTransitiveClosures(t *testing.T) {
	// d <- b, d <- c, b <- a, c <- a (diamond: a blocks everything)
	tasks := []Task{
		{ID: "a", Blocks: []string{"b", "c"}},
		{ID: "b", BlockedBy: []string{"a"}, Blocks: []string{"d"}},
		{ID: "c", BlockedBy: []string{"a"}, Blocks: []string{"d"}},
		{ID: "d", BlockedBy: []string{"b", "c"}},
	}
	g := NewGraph(tasks)

	deps := g.TransitiveDependencies("d")
	sort.Strings(deps)
	if fmt.Sprint(deps) != "[a b c]" {
		t.Errorf("deps of d = %v, want [a b c]", deps)
	}

	dependents := g.TransitiveDependents("a")
	sort.Strings(dependents)
	if fmt.Sprint(dependents) != "[b c d]" {
		t.Errorf("dependents of a = %v, want [b c d]", dependents)
	}

	if got := g.TransitiveDependencies("a"); len(got) != 0 {
		t.Errorf("deps of a = %v, want none", got)
	}
}

func TestCriticalPath(t *testing.T) {
	// d <- c <- b <- a plus shortcut d <- a: longest chain wins.
	tasks := []Task{
		{ID: "a", Blocks: []string{"b", "d"}},
		{ID: "b", BlockedBy: []string{"a"}, Blocks: []string{"c"}},
		{ID: "c", BlockedBy: []string{"b"}, Blocks: []string{"d"}},
		{ID: "d", BlockedBy: []string{"c", "a"}},
	}
	g := NewGraph(tasks)

	path := g.CriticalPath("d")
	if fmt.Sprint(path) != "[d c b a]" {
		t.Errorf("critical path = %v, want [d c b a]", path)
	}

	if path := g.CriticalPath("a"); fmt.Sprint(path) != "[a]" {
		t.Errorf("path of root = %v, want [a]", path)
	}
}

// TestGraphEdgesStayMutual drives a random sequence of edge adds
// (filtered through WouldCycle, as the engine does) and checks the two
// invariants the engine relies on: adjacency stays mutually inverse and
// the graph stays acyclic.
func TestGraphEdgesStayMutual(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "n")
		tasks := make([]Task, n)
		for i := range tasks {
			tasks[i] = Task{ID: fmt.Sprintf("t%d", i)}
		}

		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			ti := rapid.IntRange(0, n-1).Draw(t, "task")
			bi := rapid.IntRange(0, n-1).Draw(t, "blocker")
			task, blocker := &tasks[ti], &tasks[bi]

			g := NewGraph(tasks)
			if g.WouldCycle(task.ID, blocker.ID) {
				continue
			}
			task.BlockedBy = appendUnique(task.BlockedBy, blocker.ID)
			blocker.Blocks = appendUnique(blocker.Blocks, task.ID)
		}

		// Mutual inverse: B in T.BlockedBy <=> T in B.Blocks
		index := make(map[string]*Task, n)
		for i := range tasks {
			index[tasks[i].ID] = &tasks[i]
		}
		for i := range tasks {
			for _, b := range tasks[i].BlockedBy {
				if !contains(index[b].Blocks, tasks[i].ID) {
					t.Fatalf("%s blockedBy %s but inverse edge missing", tasks[i].ID, b)
				}
			}
			for _, d := range tasks[i].Blocks {
				if !contains(index[d].BlockedBy, tasks[i].ID) {
					t.Fatalf("%s blocks %s but inverse edge missing", tasks[i].ID, d)
				}
			}
		}

		// Acyclic: no task appears in its own transitive dependencies
		g := NewGraph(tasks)
		for i := range tasks {
			for _, dep := range g.TransitiveDependencies(tasks[i].ID) {
				if dep == tasks[i].ID {
					t.Fatalf("%s transitively blocks itself", tasks[i].ID)
				}
			}
		}
	})
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
