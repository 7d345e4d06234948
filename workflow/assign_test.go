package workflow

import "testing"

func roster() []Agent {
	return []Agent{
		{ID: "fiona", Role: "frontend"},
		{ID: "ben", Role: "backend"},
		{ID: "ida", Role: "infra", IsLead: true},
		{ID: "quinn", Role: "qa"},
	}
}

func TestKeywordScore(t *testing.T) {
	cases := []struct {
		role, text string
		want       int
	}{
		{"backend", "Add API endpoint for user query", 3},
		{"backend", "Update the CSS layout", 0},
		{"frontend", "Fix button alignment in the form component", 3},
		{"qa", "Test flaky regression in checkout", 3},
		{"unknown-role", "api api api", 0},
	}
	for _, tc := range cases {
		if got := KeywordScore(tc.role, tc.text); got != tc.want {
			t.Errorf("KeywordScore(%q, %q) = %d, want %d", tc.role, tc.text, got, tc.want)
		}
	}
}

func TestPickAgentByScore(t *testing.T) {
	agent, ok := PickAgent(roster(), "Add API endpoint", "new database schema for the server")
	if !ok || agent.ID != "ben" {
		t.Fatalf("picked %v, want ben", agent)
	}

	agent, ok = PickAgent(roster(), "Fix button CSS", "")
	if !ok || agent.ID != "fiona" {
		t.Fatalf("picked %v, want fiona", agent)
	}
}

func TestPickAgentLeadFallback(t *testing.T) {
	agent, ok := PickAgent(roster(), "Untagged chore", "nothing matches here")
	if !ok || agent.ID != "ida" {
		t.Fatalf("picked %v, want lead ida", agent)
	}

	// No lead in roster falls back to the first agent
	noLead := []Agent{{ID: "x", Role: "docs"}, {ID: "y", Role: "qa"}}
	agent, ok = PickAgent(noLead, "Untagged chore", "")
	if !ok || agent.ID != "x" {
		t.Fatalf("picked %v, want x", agent)
	}

	if _, ok := PickAgent(nil, "anything", ""); ok {
		t.Fatal("empty roster should report no pick")
	}
}

func TestPickAgentWeighted(t *testing.T) {
	agents := []Agent{
		{ID: "busy", Role: "backend", TasksInProgress: 10},
		{ID: "idle", Role: "backend", TasksInProgress: 0},
	}
	// Both score the same on keywords; the workload penalty tips it.
	agent, ok := PickAgentWeighted(agents, "Fix API endpoint", "")
	if !ok || agent.ID != "idle" {
		t.Fatalf("picked %v, want idle", agent)
	}

	// A much better keyword match beats a small workload edge.
	agents = []Agent{
		{ID: "match", Role: "backend", TasksInProgress: 2},
		{ID: "nomatch", Role: "frontend", TasksInProgress: 0},
	}
	agent, ok = PickAgentWeighted(agents, "API database schema query endpoint", "")
	if !ok || agent.ID != "match" {
		t.Fatalf("picked %v, want match", agent)
	}
}

func TestPickAgentWeightedRequiresKeywordMatch(t *testing.T) {
	// Zero keyword score never qualifies, no matter how idle.
	agents := []Agent{
		{ID: "idle", Role: "frontend", TasksInProgress: 0},
		{ID: "lead", Role: "docs", IsLead: true, TasksInProgress: 5},
	}
	agent, ok := PickAgentWeighted(agents, "Provision kubernetes cluster", "")
	if !ok || agent.ID != "lead" {
		t.Fatalf("picked %v, want lead fallback", agent)
	}
}
