package taskflow

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arctek/taskflow/workflow"
)

// seedLegacyTask inserts a task directly into the store, bypassing the
// engine, the way pre-migration records would look.
func seedLegacyTask(t *testing.T, store *mockStore, task workflow.Task) string {
	t.Helper()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = workflow.StatusBacklog
	}
	task.CreatedAt = time.Now()
	task.UpdatedAt = task.CreatedAt
	if err := store.CreateTask(&task); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

func TestBackfillTicketNumbers(t *testing.T) {
	e, store := testEngine(t)

	// One numbered task already exists so the counter starts above zero.
	mustCreate(t, e, CreateTaskRequest{BusinessID: "acme", Title: "Numbered"})

	legacy1 := seedLegacyTask(t, store, workflow.Task{BusinessID: "acme", Title: "Old one"})
	legacy2 := seedLegacyTask(t, store, workflow.Task{BusinessID: "acme", Title: "Old two"})

	result, err := e.BackfillTicketNumbers(10)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Processed != 2 || result.Failed != 0 || result.Remaining != 0 {
		t.Fatalf("result = %+v", result)
	}

	seen := make(map[int64]bool)
	for _, id := range []string{legacy1, legacy2} {
		task, _ := store.GetTask(id)
		if task.TicketNumber == 0 {
			t.Errorf("%s still unnumbered", id)
		}
		if seen[task.TicketNumber] {
			t.Errorf("duplicate ticket number %d", task.TicketNumber)
		}
		seen[task.TicketNumber] = true
	}

	// Idempotent: a second run finds nothing to do.
	result, err = e.BackfillTicketNumbers(10)
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 0 {
		t.Errorf("second run processed %d, want 0", result.Processed)
	}
}

func TestAdoptOrphanTasks(t *testing.T) {
	e, store := testEngine(t)

	epic, err := e.CreateEpic("acme", "Initiative", workflow.UserActor())
	if err != nil {
		t.Fatal(err)
	}

	// Orphan: points at the epic, but the epic does not list it.
	orphan := seedLegacyTask(t, store, workflow.Task{
		BusinessID: "acme", Title: "Orphan", EpicID: epic.ID, Status: workflow.StatusDone,
	})

	result, err := e.AdoptOrphanTasks(10)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("result = %+v", result)
	}

	got, _ := store.GetEpic(epic.ID)
	if !got.HasTask(orphan) {
		t.Error("epic still missing the adopted task")
	}
	// Rollup recomputed from the adopted member.
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
}

func TestAdoptOrphanTasksCatchAllEpic(t *testing.T) {
	e, store := testEngine(t)

	// Epic-less tasks across two tenants.
	a := seedLegacyTask(t, store, workflow.Task{BusinessID: "acme", Title: "Loose one"})
	b := seedLegacyTask(t, store, workflow.Task{BusinessID: "acme", Title: "Loose two"})
	c := seedLegacyTask(t, store, workflow.Task{BusinessID: "globex", Title: "Elsewhere"})

	result, err := e.AdoptOrphanTasks(10)
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if result.Processed != 3 {
		t.Fatalf("result = %+v", result)
	}

	taskA, _ := store.GetTask(a)
	taskB, _ := store.GetTask(b)
	taskC, _ := store.GetTask(c)
	if taskA.EpicID == "" || taskA.EpicID != taskB.EpicID {
		t.Errorf("acme tasks not sharing a catch-all epic: %q vs %q", taskA.EpicID, taskB.EpicID)
	}
	if taskC.EpicID == "" || taskC.EpicID == taskA.EpicID {
		t.Errorf("tenants must not share a catch-all epic")
	}

	epic, err := store.GetEpic(taskA.EpicID)
	if err != nil {
		t.Fatal(err)
	}
	if !epic.HasTask(a) || !epic.HasTask(b) {
		t.Errorf("catch-all membership = %v", epic.TaskIDs)
	}

	// Re-running reuses the same epic instead of minting another.
	d := seedLegacyTask(t, store, workflow.Task{BusinessID: "acme", Title: "Late straggler"})
	if _, err := e.AdoptOrphanTasks(10); err != nil {
		t.Fatal(err)
	}
	taskD, _ := store.GetTask(d)
	if taskD.EpicID != taskA.EpicID {
		t.Errorf("straggler epic = %q, want %q", taskD.EpicID, taskA.EpicID)
	}
}

func TestBackfillSubscriptions(t *testing.T) {
	e, store := testEngine(t)
	addAgent(t, store, "alice", "backend", false)
	addAgent(t, store, "bob", "qa", false)

	id := seedLegacyTask(t, store, workflow.Task{
		BusinessID: "acme", Title: "Assigned early", AssigneeIDs: []string{"alice", "bob"},
	})

	result, err := e.BackfillSubscriptions(10)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("result = %+v", result)
	}

	subs, _ := store.GetSubscribers(id)
	if len(subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(subs))
	}

	// Already-subscribed assignees do not make the task a candidate again.
	result, _ = e.BackfillSubscriptions(10)
	if result.Processed != 0 {
		t.Errorf("second run processed %d, want 0", result.Processed)
	}
}

func TestRunAllMigrations(t *testing.T) {
	e, store := testEngine(t)
	addAgent(t, store, "alice", "backend", false)

	// More legacy records than one batch so the loop has to iterate.
	for i := 0; i < 5; i++ {
		seedLegacyTask(t, store, workflow.Task{
			BusinessID: "acme", Title: "Legacy", AssigneeIDs: []string{"alice"},
		})
	}

	if err := e.RunAllMigrations(2); err != nil {
		t.Fatalf("run all: %v", err)
	}

	tasks, _ := store.GetAllTasks()
	for _, task := range tasks {
		if task.TicketNumber == 0 {
			t.Errorf("task %s unnumbered after full run", task.ID)
		}
		subs, _ := store.GetSubscribers(task.ID)
		if len(subs) != 1 {
			t.Errorf("task %s subscriptions = %d, want 1", task.ID, len(subs))
		}
	}
}
