package workflow

import "strings"

// WorkloadPenalty is subtracted from an agent's keyword score per task it
// currently has in progress, to spread load across idle agents.
const WorkloadPenalty = 0.2

// roleKeywords associates roster roles with the content keywords that
// signal a task is a fit for that role. Matching is case-insensitive
// substring search over title + description.
var roleKeywords = map[string][]string{
	"frontend": {"ui", "frontend", "css", "component", "layout", "button", "form", "page"},
	"backend":  {"api", "backend", "database", "server", "endpoint", "query", "schema", "cache"},
	"infra":    {"deploy", "infra", "docker", "kubernetes", "pipeline", "terraform", "monitoring"},
	"qa":       {"test", "qa", "bug", "regression", "flaky", "coverage", "verify"},
	"docs":     {"docs", "documentation", "readme", "guide", "changelog"},
}

// KeywordScore counts how many of the role's keywords appear in the text.
func KeywordScore(role, text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range roleKeywords[role] {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	return score
}

// PickAgent scores every candidate against the task content and returns
// the highest-scoring agent with score >= 1, ties broken by first-found
// order. When no candidate scores, it falls back to the lead agent, or
// the first agent if none is marked lead. Returns false only for an
// empty roster.
func PickAgent(agents []Agent, title, description string) (*Agent, bool) {
	if len(agents) == 0 {
		return nil, false
	}

	text := title + " " + description
	best := -1
	bestScore := 0
	for i := range agents {
		score := KeywordScore(agents[i].Role, text)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best >= 0 {
		return &agents[best], true
	}

	for i := range agents {
		if agents[i].IsLead {
			return &agents[i], true
		}
	}
	return &agents[0], true
}

// PickAgentWeighted is PickAgent with a workload penalty: each agent's
// in-progress count times WorkloadPenalty is subtracted from its keyword
// score before ranking. The keyword score must still be >= 1 to qualify.
func PickAgentWeighted(agents []Agent, title, description string) (*Agent, bool) {
	if len(agents) == 0 {
		return nil, false
	}

	text := title + " " + description
	best := -1
	bestAdjusted := 0.0
	for i := range agents {
		score := KeywordScore(agents[i].Role, text)
		if score < 1 {
			continue
		}
		adjusted := float64(score) - WorkloadPenalty*float64(agents[i].TasksInProgress)
		if best < 0 || adjusted > bestAdjusted {
			best = i
			bestAdjusted = adjusted
		}
	}
	if best >= 0 {
		return &agents[best], true
	}

	for i := range agents {
		if agents[i].IsLead {
			return &agents[i], true
		}
	}
	return &agents[0], true
}
