package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arctek/taskflow/workflow"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "taskflow.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func testTask(id string) *workflow.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return &workflow.Task{
		ID:         id,
		BusinessID: "acme",
		Title:      "Fix login form validation",
		Status:     workflow.StatusBacklog,
		Priority:   workflow.PriorityP2,
		CreatedBy:  workflow.UserActor(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestTaskCRUD(t *testing.T) {
	s := testStore(t)

	task := testTask("t1")
	task.AssigneeIDs = []string{"alice"}
	task.Tags = []string{"auth", "frontend"}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != task.Title || got.BusinessID != "acme" {
		t.Errorf("got %+v, want %+v", got, task)
	}
	if len(got.AssigneeIDs) != 1 || got.AssigneeIDs[0] != "alice" {
		t.Errorf("assignees = %v, want [alice]", got.AssigneeIDs)
	}
	if got.CreatedBy.Kind != workflow.ActorUser {
		t.Errorf("created by = %v, want user", got.CreatedBy)
	}

	got.Status = workflow.StatusReady
	got.BlockedBy = []string{"t2"}
	if err := s.UpdateTask(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got2.Status != workflow.StatusReady {
		t.Errorf("status = %s, want ready", got2.Status)
	}
	if len(got2.BlockedBy) != 1 || got2.BlockedBy[0] != "t2" {
		t.Errorf("blockedBy = %v, want [t2]", got2.BlockedBy)
	}

	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetTask("t1"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("get deleted = %v, want not found", err)
	}
}

func TestTaskNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTask("missing")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	var nf *workflow.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err is not *NotFoundError: %v", err)
	}
	if nf.Entity != "task" || nf.ID != "missing" {
		t.Errorf("nf = %+v", nf)
	}

	if err := s.UpdateTask(testTask("missing")); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("update missing = %v, want not found", err)
	}
	if err := s.DeleteTask("missing"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("delete missing = %v, want not found", err)
	}
}

func TestTasksByStatusAndEpic(t *testing.T) {
	s := testStore(t)

	a := testTask("a")
	b := testTask("b")
	b.Status = workflow.StatusReady
	b.EpicID = "e1"
	c := testTask("c")
	c.EpicID = "e1"
	for _, task := range []*workflow.Task{a, b, c} {
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	backlog, err := s.GetTasksByStatus(workflow.StatusBacklog)
	if err != nil {
		t.Fatalf("by status: %v", err)
	}
	if len(backlog) != 2 {
		t.Errorf("backlog count = %d, want 2", len(backlog))
	}

	members, err := s.GetTasksByEpic("e1")
	if err != nil {
		t.Fatalf("by epic: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("epic members = %d, want 2", len(members))
	}
}

func TestEpicCRUD(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	epic := &workflow.Epic{
		ID:         "e1",
		BusinessID: "acme",
		Title:      "Auth overhaul",
		Status:     workflow.EpicPlanning,
		TaskIDs:    []string{"t1", "t2"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.CreateEpic(epic); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetEpic("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.TaskIDs) != 2 || got.Status != workflow.EpicPlanning {
		t.Errorf("got %+v", got)
	}
	if !got.CompletedAt.IsZero() {
		t.Errorf("completedAt should be zero, got %v", got.CompletedAt)
	}

	got.Progress = 100
	got.Status = workflow.EpicCompleted
	got.CompletedAt = now
	if err := s.UpdateEpic(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, err := s.GetEpic("e1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got2.Progress != 100 || got2.CompletedAt.IsZero() {
		t.Errorf("got %+v", got2)
	}
}

func TestAgentRoster(t *testing.T) {
	s := testStore(t)

	agent := &workflow.Agent{ID: "alice", Name: "Alice", Role: "backend", SkillLevel: 3, IsLead: true}
	if err := s.CreateAgent(agent); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetAgent("alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsLead || got.Role != "backend" {
		t.Errorf("got %+v", got)
	}

	got.TasksInProgress = 2
	got.TasksCompleted = 5
	if err := s.UpdateAgent(got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got2, _ := s.GetAgent("alice")
	if got2.TasksInProgress != 2 || got2.TasksCompleted != 5 {
		t.Errorf("workload = %+v", got2)
	}

	if _, err := s.GetAgent("bob"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("missing agent err = %v", err)
	}
}

func TestNotifications(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	n1 := &workflow.Notification{ID: "n1", RecipientID: "alice", Type: workflow.NotifyAssigned,
		Content: "assigned", TaskID: "t1", CreatedAt: now}
	n2 := &workflow.Notification{ID: "n2", RecipientID: "alice", Type: workflow.NotifyMention,
		Content: "mentioned", TaskID: "t1", ExpiresAt: now.Add(-time.Hour), CreatedAt: now}
	for _, n := range []*workflow.Notification{n1, n2} {
		if err := s.AddNotification(n); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	all, err := s.GetNotifications("alice", false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("count = %d, want 2", len(all))
	}

	if err := s.MarkNotificationRead("n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := s.GetNotifications("alice", true)
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != "n2" {
		t.Errorf("unread = %+v", unread)
	}

	deleted, err := s.DeleteExpiredNotifications(now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (only n2 has an expiry in the past)", deleted)
	}

	if err := s.DeleteNotificationsForTask("t1"); err != nil {
		t.Fatalf("delete for task: %v", err)
	}
	remaining, _ := s.GetNotifications("alice", false)
	if len(remaining) != 0 {
		t.Errorf("remaining = %d, want 0", len(remaining))
	}
}

func TestActivities(t *testing.T) {
	s := testStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, typ := range []workflow.ActivityType{workflow.ActivityTaskCreated, workflow.ActivityStatusChanged, workflow.ActivityCommented} {
		a := &workflow.Activity{
			ID:        string(rune('a' + i)),
			Actor:     workflow.AgentActor("alice"),
			Type:      typ,
			Message:   "entry",
			TaskID:    "t1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AddActivity(a); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	trail, err := s.GetActivitiesForTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail = %d, want 3", len(trail))
	}
	if trail[0].Type != workflow.ActivityTaskCreated {
		t.Errorf("trail not oldest-first: %v", trail[0].Type)
	}
	if trail[0].Actor.AgentID != "alice" {
		t.Errorf("actor = %+v", trail[0].Actor)
	}

	recent, err := s.GetRecentActivities(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Type != workflow.ActivityCommented {
		t.Errorf("recent = %+v", recent)
	}
}

func TestCommentsAndSubscriptions(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	c := &workflow.Comment{
		ID: "c1", TaskID: "t1", Author: workflow.AgentActor("alice"),
		Content: "looks good", Mentions: []string{"bob"}, Broadcast: false, CreatedAt: now,
	}
	if err := s.AddComment(c); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	comments, err := s.GetCommentsForTask("t1")
	if err != nil {
		t.Fatalf("get comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Mentions[0] != "bob" {
		t.Errorf("comments = %+v", comments)
	}

	sub := workflow.Subscription{ActorID: "bob", TaskID: "t1", Level: workflow.SubscribeAll, CreatedAt: now}
	if err := s.Subscribe(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Idempotent on the same (actor, task) pair
	if err := s.Subscribe(sub); err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	subs, err := s.GetSubscribers("t1")
	if err != nil {
		t.Fatalf("get subscribers: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("subscribers = %d, want 1", len(subs))
	}

	if err := s.DeleteCommentsForTask("t1"); err != nil {
		t.Fatalf("delete comments: %v", err)
	}
	if err := s.DeleteSubscriptionsForTask("t1"); err != nil {
		t.Fatalf("delete subscriptions: %v", err)
	}
	subs, _ = s.GetSubscribers("t1")
	if len(subs) != 0 {
		t.Errorf("subscribers after delete = %d, want 0", len(subs))
	}
}

func TestKVAndCounters(t *testing.T) {
	s := testStore(t)

	_, found, err := s.GetKV("missing")
	if err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}

	if err := s.SetKV("flag", "on"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetKV("flag", "off"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, found, err := s.GetKV("flag")
	if err != nil || !found || value != "off" {
		t.Fatalf("get: value=%q found=%v err=%v", value, found, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := s.NextCounter("tickets:acme")
		if err != nil {
			t.Fatalf("counter: %v", err)
		}
		if got != want {
			t.Errorf("counter = %d, want %d", got, want)
		}
	}
	// Independent counters do not share sequences
	other, err := s.NextCounter("tickets:globex")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if other != 1 {
		t.Errorf("other counter = %d, want 1", other)
	}
}
