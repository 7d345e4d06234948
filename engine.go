// Package taskflow implements the task workflow engine: task and epic
// lifecycle, the blocking dependency graph, notification and activity
// fan-out, workload-aware auto-assignment, and batched migrations.
package taskflow

import (
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/arctek/taskflow/workflow"
)

// Engine coordinates workflow mutations. Every interactive operation
// consults the rate limiter, validates against the state machine and the
// dependency graph, applies the change, and then runs derived effects
// (epic rollup, fan-out, workload counters). Atomicity of the combined
// writes is the host store's contract.
type Engine struct {
	store   workflow.Store
	limiter *workflow.RateLimiter
	logger  *slog.Logger
	config  Config
}

// Config holds engine tunables.
type Config struct {
	// Rate limiting for interactive mutations, per operation+actor.
	RateMaxCalls int           `json:"rateMaxCalls"`
	RateWindow   time.Duration `json:"rateWindow"`

	// NotificationTTL is how long notifications live before the expiry
	// sweep removes them. Zero means they never expire.
	NotificationTTL time.Duration `json:"notificationTtl"`

	// EscalateBlockedAfter is how long a task may sit blocked before the
	// escalation sweep notifies the lead agent.
	EscalateBlockedAfter time.Duration `json:"escalateBlockedAfter"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RateMaxCalls:         30,
		RateWindow:           time.Minute,
		NotificationTTL:      7 * 24 * time.Hour,
		EscalateBlockedAfter: 24 * time.Hour,
	}
}

// NewEngine creates an engine over the given store.
func NewEngine(store workflow.Store, config Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &Engine{
		store:   store,
		limiter: workflow.NewRateLimiter(store),
		logger:  logger,
		config:  config,
	}
}

// Store exposes the underlying store for read-only callers (web layer).
func (e *Engine) Store() workflow.Store { return e.store }

// --- Task creation ---

// CreateTaskRequest is the typed input for CreateTask.
type CreateTaskRequest struct {
	BusinessID  string            `json:"businessId"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    workflow.Priority `json:"priority"`
	AssigneeIDs []string          `json:"assigneeIds"`
	EpicID      string            `json:"epicId"`
	ParentID    string            `json:"parentId"`
	Tags        []string          `json:"tags"`
	Actor       workflow.Actor    `json:"actor"`
}

// CreateTask creates a task in backlog, assigns its ticket number, links
// epic and parent, subscribes assignees, and logs the creation.
func (e *Engine) CreateTask(req CreateTaskRequest) (*workflow.Task, error) {
	if err := e.enforceLimit("createTask", req.Actor); err != nil {
		return nil, err
	}
	if err := workflow.ValidateTitle(req.Title); err != nil {
		return nil, err
	}
	if req.Priority == "" {
		req.Priority = workflow.PriorityP2
	}
	if !workflow.ValidPriority(req.Priority) {
		return nil, &workflow.ValidationError{Field: "priority", Value: string(req.Priority), Reason: "must be P0..P3"}
	}

	// Referenced records must exist before any write happens.
	var epic *workflow.Epic
	if req.EpicID != "" {
		var err error
		epic, err = e.store.GetEpic(req.EpicID)
		if err != nil {
			return nil, err
		}
	}
	var parent *workflow.Task
	if req.ParentID != "" {
		var err error
		parent, err = e.store.GetTask(req.ParentID)
		if err != nil {
			return nil, err
		}
	}
	for _, id := range req.AssigneeIDs {
		if _, err := e.store.GetAgent(id); err != nil {
			return nil, err
		}
	}

	number, err := e.store.NextCounter("tickets:" + req.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate ticket number: %w", err)
	}

	now := time.Now()
	task := &workflow.Task{
		ID:           uuid.New().String(),
		BusinessID:   req.BusinessID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       workflow.StatusBacklog,
		Priority:     req.Priority,
		EpicID:       req.EpicID,
		ParentID:     req.ParentID,
		AssigneeIDs:  req.AssigneeIDs,
		Tags:         req.Tags,
		TicketNumber: number,
		CreatedBy:    req.Actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.CreateTask(task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if epic != nil {
		if err := e.syncEpicTaskLink(task.ID, "", epic.ID); err != nil {
			return nil, err
		}
		if err := e.recalculateProgress(epic.ID); err != nil {
			return nil, err
		}
	}
	if parent != nil {
		parent.SubtaskIDs = appendUniqueID(parent.SubtaskIDs, task.ID)
		parent.UpdatedAt = now
		if err := e.store.UpdateTask(parent); err != nil {
			return nil, fmt.Errorf("failed to link subtask: %w", err)
		}
	}

	for _, id := range req.AssigneeIDs {
		e.subscribe(id, task.ID, workflow.SubscribeAll)
		e.notify(id, workflow.NotifyAssigned,
			fmt.Sprintf("You were assigned %s: %s", task.TicketRef(), task.Title), task.ID, "")
	}

	e.logActivity(req.Actor, workflow.ActivityTaskCreated,
		fmt.Sprintf("Created %s: %s", task.TicketRef(), task.Title), task, "", string(task.Status))

	e.logger.Info("Task created", "task", task.ID, "ticket", task.TicketRef(), "epic", task.EpicID)
	return task, nil
}

// --- Status transitions ---

// UpdateStatus applies a state-machine transition and its derived effects.
func (e *Engine) UpdateStatus(taskID string, status workflow.Status, actor workflow.Actor) error {
	if err := e.enforceLimit("updateStatus", actor); err != nil {
		return err
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}

	before := task.Status
	if err := workflow.ApplyTransition(task, status, time.Now()); err != nil {
		return err
	}
	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	e.logActivity(actor, workflow.ActivityStatusChanged,
		fmt.Sprintf("%s moved from %s to %s", task.TicketRef(), before, status),
		task, string(before), string(status))

	if task.EpicID != "" {
		if err := e.recalculateProgress(task.EpicID); err != nil {
			return err
		}
	}
	e.updateWorkload(task, before, status)

	return nil
}

// updateWorkload maintains the roster workload counters. TasksInProgress
// counts tasks currently occupying an in_progress slot, so it moves only
// on edges entering or leaving that status; TasksCompleted moves on done.
func (e *Engine) updateWorkload(task *workflow.Task, from, to workflow.Status) {
	entered := to == workflow.StatusInProgress && from != workflow.StatusInProgress
	left := from == workflow.StatusInProgress && to != workflow.StatusInProgress
	if !entered && !left && to != workflow.StatusDone {
		return
	}

	for _, id := range task.AssigneeIDs {
		agent, err := e.store.GetAgent(id)
		if err != nil {
			continue
		}
		if entered {
			agent.TasksInProgress++
		}
		if left {
			agent.TasksInProgress = decrement(agent.TasksInProgress)
		}
		if to == workflow.StatusDone {
			agent.TasksCompleted++
		}
		if err := e.store.UpdateAgent(agent); err != nil {
			e.logger.Warn("Failed to update agent workload", "agent", id, "error", err)
		}
	}
}

func decrement(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}

// --- Dependency graph ---

// AddDependency records "blocker blocks task". The edge is rejected when
// it is a self-loop or would close a cycle; otherwise both inverse
// adjacency lists are updated and the task is auto-blocked while the
// blocker is unfinished.
func (e *Engine) AddDependency(taskID, blockerID string, actor workflow.Actor) error {
	if err := e.enforceLimit("addDependency", actor); err != nil {
		return err
	}
	if taskID == blockerID {
		return &workflow.ValidationError{Field: "blockerId", Value: blockerID, Reason: "a task cannot block itself"}
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	blocker, err := e.store.GetTask(blockerID)
	if err != nil {
		return err
	}

	all, err := e.store.GetAllTasks()
	if err != nil {
		return fmt.Errorf("failed to load task graph: %w", err)
	}
	if workflow.NewGraph(all).WouldCycle(taskID, blockerID) {
		return &workflow.CycleError{TaskID: taskID, BlockerID: blockerID}
	}

	now := time.Now()
	task.BlockedBy = appendUniqueID(task.BlockedBy, blockerID)
	task.UpdatedAt = now
	blocker.Blocks = appendUniqueID(blocker.Blocks, taskID)
	blocker.UpdatedAt = now

	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if err := e.store.UpdateTask(blocker); err != nil {
		return fmt.Errorf("failed to update blocker: %w", err)
	}

	e.logActivity(actor, workflow.ActivityDependencyAdd,
		fmt.Sprintf("%s is now blocked by %s", task.TicketRef(), blocker.TicketRef()),
		task, "", blockerID)

	// Auto-block while the blocker is unfinished.
	if blocker.Status != workflow.StatusDone &&
		task.Status != workflow.StatusDone && task.Status != workflow.StatusBlocked {
		before := task.Status
		if err := workflow.ApplyTransition(task, workflow.StatusBlocked, now); err == nil {
			if err := e.store.UpdateTask(task); err != nil {
				return fmt.Errorf("failed to auto-block task: %w", err)
			}
			e.logActivity(workflow.SystemActor(), workflow.ActivityAutoBlocked,
				fmt.Sprintf("%s automatically blocked by %s", task.TicketRef(), blocker.TicketRef()),
				task, string(before), string(workflow.StatusBlocked))
			e.updateWorkload(task, before, workflow.StatusBlocked)
		}
	}

	return nil
}

// RemoveDependency removes both inverse entries of the edge. When the
// last unfinished blocker goes away and the task is blocked, it
// auto-transitions to ready and every assignee is notified once.
func (e *Engine) RemoveDependency(taskID, blockerID string, actor workflow.Actor) error {
	if err := e.enforceLimit("removeDependency", actor); err != nil {
		return err
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	blocker, err := e.store.GetTask(blockerID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.BlockedBy = removeIDFrom(task.BlockedBy, blockerID)
	task.UpdatedAt = now
	blocker.Blocks = removeIDFrom(blocker.Blocks, taskID)
	blocker.UpdatedAt = now

	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if err := e.store.UpdateTask(blocker); err != nil {
		return fmt.Errorf("failed to update blocker: %w", err)
	}

	e.logActivity(actor, workflow.ActivityDependencyDrop,
		fmt.Sprintf("%s is no longer blocked by %s", task.TicketRef(), blocker.TicketRef()),
		task, blockerID, "")

	return e.maybeUnblock(task)
}

// maybeUnblock transitions a blocked task to ready when none of its
// remaining blockers are unfinished, notifying each assignee.
func (e *Engine) maybeUnblock(task *workflow.Task) error {
	if task.Status != workflow.StatusBlocked {
		return nil
	}
	for _, id := range task.BlockedBy {
		blocker, err := e.store.GetTask(id)
		if err != nil {
			// A dangling edge never holds the task hostage.
			e.logger.Warn("Blocker missing during unblock check", "task", task.ID, "blocker", id)
			continue
		}
		if blocker.Status != workflow.StatusDone {
			return nil
		}
	}

	before := task.Status
	if err := workflow.ApplyTransition(task, workflow.StatusReady, time.Now()); err != nil {
		return err
	}
	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to unblock task: %w", err)
	}

	e.logActivity(workflow.SystemActor(), workflow.ActivityAutoUnblocked,
		fmt.Sprintf("%s automatically unblocked", task.TicketRef()),
		task, string(before), string(workflow.StatusReady))

	for _, id := range task.AssigneeIDs {
		e.notify(id, workflow.NotifyUnblocked,
			fmt.Sprintf("%s is unblocked and ready: %s", task.TicketRef(), task.Title), task.ID, "")
	}
	return nil
}

// TransitiveDependencies returns every task transitively blocking taskID.
func (e *Engine) TransitiveDependencies(taskID string) ([]string, error) {
	if _, err := e.store.GetTask(taskID); err != nil {
		return nil, err
	}
	all, err := e.store.GetAllTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load task graph: %w", err)
	}
	return workflow.NewGraph(all).TransitiveDependencies(taskID), nil
}

// TransitiveDependents returns every task transitively blocked by taskID.
func (e *Engine) TransitiveDependents(taskID string) ([]string, error) {
	if _, err := e.store.GetTask(taskID); err != nil {
		return nil, err
	}
	all, err := e.store.GetAllTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load task graph: %w", err)
	}
	return workflow.NewGraph(all).TransitiveDependents(taskID), nil
}

// CriticalPath returns the longest blocker chain starting at taskID.
func (e *Engine) CriticalPath(taskID string) ([]string, error) {
	if _, err := e.store.GetTask(taskID); err != nil {
		return nil, err
	}
	all, err := e.store.GetAllTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load task graph: %w", err)
	}
	return workflow.NewGraph(all).CriticalPath(taskID), nil
}

// --- Assignment ---

// Assign replaces the assignee set, subscribing and notifying each new
// assignee.
func (e *Engine) Assign(taskID string, assigneeIDs []string, actor workflow.Actor) error {
	if err := e.enforceLimit("assign", actor); err != nil {
		return err
	}

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	for _, id := range assigneeIDs {
		if _, err := e.store.GetAgent(id); err != nil {
			return err
		}
	}

	previous := task.AssigneeIDs
	task.AssigneeIDs = assigneeIDs
	task.UpdatedAt = time.Now()
	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to assign task: %w", err)
	}

	for _, id := range assigneeIDs {
		if containsID(previous, id) {
			continue
		}
		e.subscribe(id, task.ID, workflow.SubscribeAll)
		e.notify(id, workflow.NotifyAssigned,
			fmt.Sprintf("You were assigned %s: %s", task.TicketRef(), task.Title), task.ID, "")
	}

	e.logActivity(actor, workflow.ActivityAssigned,
		fmt.Sprintf("%s assigned to %d actor(s)", task.TicketRef(), len(assigneeIDs)),
		task, joinIDs(previous), joinIDs(assigneeIDs))
	return nil
}

// SmartAssign picks the best-matching agent for an unassigned task by
// keyword score and assigns it.
func (e *Engine) SmartAssign(taskID string) (*workflow.Agent, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if len(task.AssigneeIDs) > 0 {
		return nil, &workflow.ValidationError{Field: "assigneeIds", Value: joinIDs(task.AssigneeIDs), Reason: "task already has assignees"}
	}

	agents, err := e.store.GetAllAgents()
	if err != nil {
		return nil, fmt.Errorf("failed to load agent roster: %w", err)
	}
	agent, ok := workflow.PickAgent(agents, task.Title, task.Description)
	if !ok {
		return nil, &workflow.NotFoundError{Entity: "agent", ID: "(roster empty)"}
	}

	if err := e.Assign(taskID, []string{agent.ID}, workflow.SystemActor()); err != nil {
		return nil, err
	}
	e.logger.Info("Smart-assigned task", "task", task.TicketRef(), "agent", agent.ID, "role", agent.Role)
	return agent, nil
}

// AssignmentResult reports one auto-assignment made by AutoAssignBacklog.
type AssignmentResult struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
}

// AutoAssignBacklog assigns up to limit unassigned backlog tasks using
// workload-weighted scoring. Per-task failures are logged and skipped.
func (e *Engine) AutoAssignBacklog(limit int) ([]AssignmentResult, error) {
	if limit <= 0 {
		limit = 10
	}

	tasks, err := e.store.GetTasksByStatus(workflow.StatusBacklog)
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog: %w", err)
	}
	agents, err := e.store.GetAllAgents()
	if err != nil {
		return nil, fmt.Errorf("failed to load agent roster: %w", err)
	}
	if len(agents) == 0 {
		return nil, nil
	}

	var results []AssignmentResult
	for i := range tasks {
		if len(results) >= limit {
			break
		}
		task := &tasks[i]
		if len(task.AssigneeIDs) > 0 {
			continue
		}

		agent, ok := workflow.PickAgentWeighted(agents, task.Title, task.Description)
		if !ok {
			continue
		}
		if err := e.Assign(task.ID, []string{agent.ID}, workflow.SystemActor()); err != nil {
			e.logger.Warn("Auto-assign failed, skipping", "task", task.ID, "error", err)
			continue
		}
		results = append(results, AssignmentResult{TaskID: task.ID, AgentID: agent.ID})

		// Keep the snapshot honest within the batch so the penalty
		// spreads consecutive picks.
		for j := range agents {
			if agents[j].ID == agent.ID {
				agents[j].TasksInProgress++
			}
		}
	}
	return results, nil
}

// --- Deletion ---

// DeleteTask removes a task and cascades cleanup: dependency edges on
// both sides, epic membership and rollup, subscriptions, comments, and
// notifications. Only the creator or the system may delete.
func (e *Engine) DeleteTask(taskID string, actor workflow.Actor) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if actor.Kind != workflow.ActorSystem && actor != task.CreatedBy {
		return &workflow.UnauthorizedError{Actor: actor, Operation: "delete", TaskID: taskID}
	}

	now := time.Now()

	// Detach from blockers: this task no longer appears in their Blocks.
	for _, blockerID := range task.BlockedBy {
		blocker, err := e.store.GetTask(blockerID)
		if err != nil {
			continue
		}
		blocker.Blocks = removeIDFrom(blocker.Blocks, taskID)
		blocker.UpdatedAt = now
		if err := e.store.UpdateTask(blocker); err != nil {
			e.logger.Warn("Failed to detach blocker edge", "task", taskID, "blocker", blockerID, "error", err)
		}
	}

	// Detach dependents and re-check their blocked state without this
	// blocker in the way.
	for _, depID := range task.Blocks {
		dep, err := e.store.GetTask(depID)
		if err != nil {
			continue
		}
		dep.BlockedBy = removeIDFrom(dep.BlockedBy, taskID)
		dep.UpdatedAt = now
		if err := e.store.UpdateTask(dep); err != nil {
			e.logger.Warn("Failed to detach dependent edge", "task", taskID, "dependent", depID, "error", err)
			continue
		}
		if err := e.maybeUnblock(dep); err != nil {
			e.logger.Warn("Failed to unblock dependent", "dependent", depID, "error", err)
		}
	}

	// Detach subtasks.
	for _, subID := range task.SubtaskIDs {
		sub, err := e.store.GetTask(subID)
		if err != nil {
			continue
		}
		sub.ParentID = ""
		sub.UpdatedAt = now
		if err := e.store.UpdateTask(sub); err != nil {
			e.logger.Warn("Failed to detach subtask", "subtask", subID, "error", err)
		}
	}
	if task.ParentID != "" {
		if parent, err := e.store.GetTask(task.ParentID); err == nil {
			parent.SubtaskIDs = removeIDFrom(parent.SubtaskIDs, taskID)
			parent.UpdatedAt = now
			if err := e.store.UpdateTask(parent); err != nil {
				e.logger.Warn("Failed to detach from parent", "parent", task.ParentID, "error", err)
			}
		}
	}

	if err := e.store.DeleteSubscriptionsForTask(taskID); err != nil {
		return fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	if err := e.store.DeleteCommentsForTask(taskID); err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	if err := e.store.DeleteNotificationsForTask(taskID); err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	if err := e.store.DeleteTask(taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if task.EpicID != "" {
		if err := e.syncEpicTaskLink(taskID, task.EpicID, ""); err != nil {
			return err
		}
		if err := e.recalculateProgress(task.EpicID); err != nil {
			return err
		}
	}

	e.logActivity(actor, workflow.ActivityTaskDeleted,
		fmt.Sprintf("Deleted %s: %s", task.TicketRef(), task.Title), task, string(task.Status), "")
	e.logger.Info("Task deleted", "task", taskID, "ticket", task.TicketRef())
	return nil
}

// --- Epic synchronization ---

// CreateEpic creates an epic in planning.
func (e *Engine) CreateEpic(businessID, title string, actor workflow.Actor) (*workflow.Epic, error) {
	if err := workflow.ValidateTitle(title); err != nil {
		return nil, err
	}
	now := time.Now()
	epic := &workflow.Epic{
		ID:         uuid.New().String(),
		BusinessID: businessID,
		Title:      title,
		Status:     workflow.EpicPlanning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateEpic(epic); err != nil {
		return nil, fmt.Errorf("failed to create epic: %w", err)
	}
	return epic, nil
}

// DeleteEpic removes an epic. Its tasks must be reassigned or orphaned
// first; an epic with members is never deleted.
func (e *Engine) DeleteEpic(epicID string, actor workflow.Actor) error {
	epic, err := e.store.GetEpic(epicID)
	if err != nil {
		return err
	}
	tasks, err := e.store.GetTasksByEpic(epicID)
	if err != nil {
		return fmt.Errorf("failed to load epic tasks: %w", err)
	}
	if len(tasks) > 0 || len(epic.TaskIDs) > 0 {
		return &workflow.ValidationError{Field: "taskIds", Value: epic.ID,
			Reason: fmt.Sprintf("epic still has %d task(s)", len(tasks))}
	}

	if err := e.store.DeleteEpic(epicID); err != nil {
		return fmt.Errorf("failed to delete epic: %w", err)
	}
	e.logEpicActivity(actor, workflow.ActivityEpicDeleted,
		fmt.Sprintf("Deleted epic: %s", epic.Title), epic.ID)
	e.logger.Info("Epic deleted", "epic", epicID, "title", epic.Title)
	return nil
}

// SetTaskEpic moves a task between epics, keeping both membership lists
// and both rollups in sync.
func (e *Engine) SetTaskEpic(taskID, newEpicID string, actor workflow.Actor) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if newEpicID != "" {
		if _, err := e.store.GetEpic(newEpicID); err != nil {
			return err
		}
	}

	oldEpicID := task.EpicID
	if oldEpicID == newEpicID {
		return nil
	}

	task.EpicID = newEpicID
	task.UpdatedAt = time.Now()
	if err := e.store.UpdateTask(task); err != nil {
		return fmt.Errorf("failed to move task: %w", err)
	}

	if err := e.syncEpicTaskLink(taskID, oldEpicID, newEpicID); err != nil {
		return err
	}
	if oldEpicID != "" {
		if err := e.recalculateProgress(oldEpicID); err != nil {
			return err
		}
	}
	if newEpicID != "" {
		if err := e.recalculateProgress(newEpicID); err != nil {
			return err
		}
	}
	return nil
}

// syncEpicTaskLink maintains the denormalized epic membership lists. Both
// writes are idempotent and either epic id may be empty.
func (e *Engine) syncEpicTaskLink(taskID, oldEpicID, newEpicID string) error {
	if oldEpicID != "" && oldEpicID != newEpicID {
		epic, err := e.store.GetEpic(oldEpicID)
		if err == nil {
			epic.TaskIDs = removeIDFrom(epic.TaskIDs, taskID)
			epic.UpdatedAt = time.Now()
			if err := e.store.UpdateEpic(epic); err != nil {
				return fmt.Errorf("failed to update old epic: %w", err)
			}
		}
	}
	if newEpicID != "" {
		epic, err := e.store.GetEpic(newEpicID)
		if err != nil {
			return err
		}
		if !epic.HasTask(taskID) {
			epic.TaskIDs = append(epic.TaskIDs, taskID)
			epic.UpdatedAt = time.Now()
			if err := e.store.UpdateEpic(epic); err != nil {
				return fmt.Errorf("failed to update new epic: %w", err)
			}
		}
	}
	return nil
}

// recalculateProgress recomputes an epic's rollup from its member tasks
// and advances its status: planning -> active once work starts, and
// -> completed (with CompletedAt set exactly once) at 100%.
func (e *Engine) recalculateProgress(epicID string) error {
	epic, err := e.store.GetEpic(epicID)
	if err != nil {
		return err
	}
	tasks, err := e.store.GetTasksByEpic(epicID)
	if err != nil {
		return fmt.Errorf("failed to load epic tasks: %w", err)
	}

	epic.Progress = workflow.EpicProgress(tasks)
	epic.UpdatedAt = time.Now()

	if epic.Status == workflow.EpicPlanning {
		for i := range tasks {
			if tasks[i].Status != workflow.StatusBacklog {
				epic.Status = workflow.EpicActive
				break
			}
		}
	}

	if epic.Progress >= 100 && len(tasks) > 0 && epic.CompletedAt.IsZero() {
		epic.CompletedAt = time.Now()
		epic.Status = workflow.EpicCompleted
		e.logEpicActivity(workflow.SystemActor(), workflow.ActivityEpicCompleted,
			fmt.Sprintf("Epic completed: %s", epic.Title), epic.ID)
		e.logger.Info("Epic completed", "epic", epic.ID, "title", epic.Title)
	}

	if err := e.store.UpdateEpic(epic); err != nil {
		return fmt.Errorf("failed to update epic: %w", err)
	}
	return nil
}

// --- Comment fan-out ---

// PostComment appends a comment and runs the fan-out pipeline: audit
// entry, author auto-subscribe, broadcast and mention notifications, then
// generic notifications for remaining thread subscribers. One notified
// set spans all steps so no actor hears about the same comment twice.
func (e *Engine) PostComment(taskID string, author workflow.Actor, content string, mentions []string, broadcast bool) (*workflow.Comment, error) {
	if err := e.enforceLimit("postComment", author); err != nil {
		return nil, err
	}
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, &workflow.ValidationError{Field: "content", Value: "", Reason: "must not be empty"}
	}

	comment := &workflow.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Author:    author,
		Content:   content,
		Mentions:  mentions,
		Broadcast: broadcast,
		CreatedAt: time.Now(),
	}
	if err := e.store.AddComment(comment); err != nil {
		return nil, fmt.Errorf("failed to store comment: %w", err)
	}

	e.logActivity(author, workflow.ActivityCommented,
		fmt.Sprintf("Commented on %s", task.TicketRef()), task, "", "")

	// The anonymous user actor is never subscribed automatically.
	if author.Kind != workflow.ActorUser {
		e.subscribe(author.Ref(), taskID, workflow.SubscribeAll)
	}

	notified := map[string]bool{author.Ref(): true}

	if broadcast {
		agents, err := e.store.GetAllAgents()
		if err != nil {
			return nil, fmt.Errorf("failed to load agent roster: %w", err)
		}
		count := 0
		for i := range agents {
			id := agents[i].ID
			if notified[id] {
				continue
			}
			e.notify(id, workflow.NotifyBroadcast,
				fmt.Sprintf("%s on %s: %s", author.DisplayName(), task.TicketRef(), snippet(content)),
				taskID, comment.ID)
			e.subscribe(id, taskID, workflow.SubscribeAll)
			notified[id] = true
			count++
		}
		e.logActivity(author, workflow.ActivityBroadcast,
			fmt.Sprintf("Broadcast on %s reached %d actor(s)", task.TicketRef(), count), task, "", "")
	}

	for _, id := range mentions {
		e.logActivity(author, workflow.ActivityMentioned,
			fmt.Sprintf("Mentioned %s on %s", id, task.TicketRef()), task, "", id)
		if notified[id] {
			continue
		}
		e.notify(id, workflow.NotifyMention,
			fmt.Sprintf("%s mentioned you on %s: %s", author.DisplayName(), task.TicketRef(), snippet(content)),
			taskID, comment.ID)
		e.subscribe(id, taskID, workflow.SubscribeAll)
		notified[id] = true
	}

	subs, err := e.store.GetSubscribers(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}
	for _, sub := range subs {
		if notified[sub.ActorID] {
			continue
		}
		e.notify(sub.ActorID, workflow.NotifyNewComment,
			fmt.Sprintf("New comment on %s: %s", task.TicketRef(), snippet(content)),
			taskID, comment.ID)
		notified[sub.ActorID] = true
	}

	return comment, nil
}

// --- Internal helpers ---

func (e *Engine) enforceLimit(operation string, actor workflow.Actor) error {
	if e.config.RateMaxCalls <= 0 {
		return nil
	}
	return e.limiter.Enforce(workflow.RateLimitKey(operation, actor), e.config.RateMaxCalls, e.config.RateWindow)
}

func (e *Engine) notify(recipientID string, typ workflow.NotificationType, content, taskID, messageID string) {
	n := &workflow.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Type:        typ,
		Content:     content,
		TaskID:      taskID,
		MessageID:   messageID,
		CreatedAt:   time.Now(),
	}
	if e.config.NotificationTTL > 0 {
		n.ExpiresAt = n.CreatedAt.Add(e.config.NotificationTTL)
	}
	if err := e.store.AddNotification(n); err != nil {
		e.logger.Warn("Failed to store notification", "recipient", recipientID, "type", typ, "error", err)
	}
}

func (e *Engine) subscribe(actorID, taskID string, level workflow.SubscriptionLevel) {
	sub := workflow.Subscription{
		ActorID:   actorID,
		TaskID:    taskID,
		Level:     level,
		CreatedAt: time.Now(),
	}
	if err := e.store.Subscribe(sub); err != nil {
		e.logger.Warn("Failed to store subscription", "actor", actorID, "task", taskID, "error", err)
	}
}

func (e *Engine) logActivity(actor workflow.Actor, typ workflow.ActivityType, message string, task *workflow.Task, before, after string) {
	a := &workflow.Activity{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      typ,
		Message:   message,
		Before:    before,
		After:     after,
		CreatedAt: time.Now(),
	}
	if task != nil {
		a.TaskID = task.ID
		a.EpicID = task.EpicID
		a.TicketRef = task.TicketRef()
	}
	if err := e.store.AddActivity(a); err != nil {
		e.logger.Warn("Failed to store activity", "type", typ, "error", err)
	}
}

// logEpicActivity records an audit entry for an epic-level event.
func (e *Engine) logEpicActivity(actor workflow.Actor, typ workflow.ActivityType, message, epicID string) {
	a := &workflow.Activity{
		ID:        uuid.New().String(),
		Actor:     actor,
		Type:      typ,
		Message:   message,
		EpicID:    epicID,
		CreatedAt: time.Now(),
	}
	if err := e.store.AddActivity(a); err != nil {
		e.logger.Warn("Failed to store activity", "type", typ, "error", err)
	}
}

func snippet(content string) string {
	const max = 80
	if len(content) <= max {
		return content
	}
	cut := max - 3
	// Back off to a rune boundary so the cut never splits a character.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func appendUniqueID(list []string, id string) []string {
	if containsID(list, id) {
		return list
	}
	return append(list, id)
}

func removeIDFrom(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
