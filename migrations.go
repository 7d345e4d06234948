package taskflow

import (
	"fmt"
	"time"

	"github.com/arctek/taskflow/workflow"
)

// Data migrations are idempotent backfills over live records: each step
// selects only records not yet in the target shape, so re-running after
// a partial batch or a crash is always safe.

// BackfillTicketNumbers assigns sequential ticket numbers to tasks
// created before numbering existed. batchSize <= 0 uses the default.
func (e *Engine) BackfillTicketNumbers(batchSize int) (workflow.MigrationResult, error) {
	step := &workflow.MigrationStep{
		Name:      "backfill_ticket_numbers",
		BatchSize: batchSize,
		Candidates: func() ([]string, error) {
			tasks, err := e.store.GetAllTasks()
			if err != nil {
				return nil, err
			}
			var ids []string
			for i := range tasks {
				if tasks[i].TicketNumber == 0 {
					ids = append(ids, tasks[i].ID)
				}
			}
			return ids, nil
		},
		Transform: func(id string) error {
			task, err := e.store.GetTask(id)
			if err != nil {
				return err
			}
			number, err := e.store.NextCounter("tickets:" + task.BusinessID)
			if err != nil {
				return fmt.Errorf("failed to allocate ticket number: %w", err)
			}
			task.TicketNumber = number
			task.UpdatedAt = time.Now()
			return e.store.UpdateTask(task)
		},
	}
	return step.Run(e.logger)
}

// AdoptOrphanTasks repairs epic membership: a task whose EpicID points
// at an epic that does not list it gets re-added, and a task with no
// epic at all is adopted into its tenant's catch-all epic, created on
// first use.
func (e *Engine) AdoptOrphanTasks(batchSize int) (workflow.MigrationResult, error) {
	step := &workflow.MigrationStep{
		Name:      "adopt_orphan_tasks",
		BatchSize: batchSize,
		Candidates: func() ([]string, error) {
			tasks, err := e.store.GetAllTasks()
			if err != nil {
				return nil, err
			}
			var ids []string
			for i := range tasks {
				if tasks[i].EpicID == "" {
					ids = append(ids, tasks[i].ID)
					continue
				}
				epic, err := e.store.GetEpic(tasks[i].EpicID)
				if err != nil || epic.HasTask(tasks[i].ID) {
					continue
				}
				ids = append(ids, tasks[i].ID)
			}
			return ids, nil
		},
		Transform: func(id string) error {
			task, err := e.store.GetTask(id)
			if err != nil {
				return err
			}
			if task.EpicID == "" {
				epicID, err := e.catchAllEpic(task.BusinessID)
				if err != nil {
					return err
				}
				task.EpicID = epicID
				task.UpdatedAt = time.Now()
				if err := e.store.UpdateTask(task); err != nil {
					return err
				}
			}
			if err := e.syncEpicTaskLink(task.ID, "", task.EpicID); err != nil {
				return err
			}
			return e.recalculateProgress(task.EpicID)
		},
	}
	return step.Run(e.logger)
}

// catchAllEpic returns the tenant's default epic, creating it on first
// use. The id is remembered in the kv table so re-runs reuse it.
func (e *Engine) catchAllEpic(businessID string) (string, error) {
	key := "catchall-epic:" + businessID
	if id, ok, err := e.store.GetKV(key); err != nil {
		return "", err
	} else if ok {
		if _, err := e.store.GetEpic(id); err == nil {
			return id, nil
		}
	}

	epic, err := e.CreateEpic(businessID, "Uncategorized", workflow.SystemActor())
	if err != nil {
		return "", err
	}
	if err := e.store.SetKV(key, epic.ID); err != nil {
		return "", err
	}
	return epic.ID, nil
}

// BackfillSubscriptions subscribes existing assignees to their task
// threads, for tasks assigned before auto-subscription existed.
func (e *Engine) BackfillSubscriptions(batchSize int) (workflow.MigrationResult, error) {
	step := &workflow.MigrationStep{
		Name:      "backfill_subscriptions",
		BatchSize: batchSize,
		Candidates: func() ([]string, error) {
			tasks, err := e.store.GetAllTasks()
			if err != nil {
				return nil, err
			}
			var ids []string
			for i := range tasks {
				if len(tasks[i].AssigneeIDs) == 0 {
					continue
				}
				subs, err := e.store.GetSubscribers(tasks[i].ID)
				if err != nil {
					return nil, err
				}
				subscribed := make(map[string]bool, len(subs))
				for _, s := range subs {
					subscribed[s.ActorID] = true
				}
				for _, aid := range tasks[i].AssigneeIDs {
					if !subscribed[aid] {
						ids = append(ids, tasks[i].ID)
						break
					}
				}
			}
			return ids, nil
		},
		Transform: func(id string) error {
			task, err := e.store.GetTask(id)
			if err != nil {
				return err
			}
			for _, aid := range task.AssigneeIDs {
				sub := workflow.Subscription{
					ActorID:   aid,
					TaskID:    task.ID,
					Level:     workflow.SubscribeAll,
					CreatedAt: time.Now(),
				}
				if err := e.store.Subscribe(sub); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return step.Run(e.logger)
}

// RunAllMigrations executes every migration step to completion, looping
// each until no candidates remain.
func (e *Engine) RunAllMigrations(batchSize int) error {
	steps := []func(int) (workflow.MigrationResult, error){
		e.BackfillTicketNumbers,
		e.AdoptOrphanTasks,
		e.BackfillSubscriptions,
	}
	for _, run := range steps {
		for {
			result, err := run(batchSize)
			if err != nil {
				return err
			}
			// Failed records stay candidates; stop rather than spin on them.
			if result.Remaining == 0 || result.Processed == 0 {
				break
			}
		}
	}
	return nil
}
