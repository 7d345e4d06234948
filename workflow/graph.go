package workflow

// Graph is an adjacency index over the task blocking graph, built from a
// snapshot of tasks and keyed by task id. Traversals are iterative with an
// explicit stack and a visited set, so they terminate even if the stored
// lists were ever inconsistent.
type Graph struct {
	blockedBy map[string][]string
	blocks    map[string][]string

	// criticalPath memo, per task id
	memo map[string][]string
}

// NewGraph indexes the blocking edges of the given tasks.
func NewGraph(tasks []Task) *Graph {
	g := &Graph{
		blockedBy: make(map[string][]string, len(tasks)),
		blocks:    make(map[string][]string, len(tasks)),
		memo:      make(map[string][]string),
	}
	for i := range tasks {
		t := &tasks[i]
		g.blockedBy[t.ID] = append([]string(nil), t.BlockedBy...)
		g.blocks[t.ID] = append([]string(nil), t.Blocks...)
	}
	return g
}

// WouldCycle reports whether adding "blocker blocks task" would close a
// cycle: a depth-first walk from blocker along blockedBy edges that
// reaches task means task already (transitively) blocks blocker.
func (g *Graph) WouldCycle(taskID, blockerID string) bool {
	if taskID == blockerID {
		return true
	}

	visited := map[string]bool{blockerID: true}
	stack := []string{blockerID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range g.blockedBy[current] {
			if next == taskID {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// TransitiveDependencies returns every task reachable from taskID over
// blockedBy edges, excluding taskID itself.
func (g *Graph) TransitiveDependencies(taskID string) []string {
	return g.collect(taskID, g.blockedBy)
}

// TransitiveDependents returns every task reachable from taskID over
// blocks edges, excluding taskID itself.
func (g *Graph) TransitiveDependents(taskID string) []string {
	return g.collect(taskID, g.blocks)
}

func (g *Graph) collect(origin string, edges map[string][]string) []string {
	visited := map[string]bool{origin: true}
	stack := []string{origin}
	var result []string

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, next := range edges[current] {
			if visited[next] {
				continue
			}
			visited[next] = true
			result = append(result, next)
			stack = append(stack, next)
		}
	}
	return result
}

// CriticalPath returns the longest blocker chain starting at taskID,
// including taskID as the first element. Results are memoized per task id
// so shared sub-paths are computed once per Graph.
func (g *Graph) CriticalPath(taskID string) []string {
	if cached, ok := g.memo[taskID]; ok {
		return cached
	}

	// Mark before recursing: a cycle (which the engine prevents) would
	// otherwise loop forever.
	g.memo[taskID] = []string{taskID}

	var longest []string
	for _, blockerID := range g.blockedBy[taskID] {
		path := g.CriticalPath(blockerID)
		if len(path) > len(longest) {
			longest = path
		}
	}

	path := append([]string{taskID}, longest...)
	g.memo[taskID] = path
	return path
}

// appendUnique appends id unless already present.
func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}
