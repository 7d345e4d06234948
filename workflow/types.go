// Package workflow provides the core task workflow engine: the task and
// epic data model, the status state machine, the dependency graph, epic
// progress rollup, auto-assignment scoring, rate limiting, and the batched
// migration step abstraction.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Status represents the current stage of a task in its lifecycle.
type Status string

const (
	StatusBacklog    Status = "backlog"     // Created, not yet planned
	StatusReady      Status = "ready"       // Unblocked and ready to pick up
	StatusInProgress Status = "in_progress" // An actor is working on it
	StatusReview     Status = "review"      // Work finished, awaiting review
	StatusBlocked    Status = "blocked"     // Waiting on unfinished blockers
	StatusDone       Status = "done"        // Terminal, no outgoing transitions
)

// Priority determines the order tasks are worked on. Lower is more urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ValidPriority reports whether p is one of the defined priority levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// ActorKind tags the Actor union.
type ActorKind string

const (
	ActorUser   ActorKind = "user"   // The anonymous human operator
	ActorSystem ActorKind = "system" // The engine itself
	ActorAgent  ActorKind = "agent"  // A roster agent, identified by AgentID
)

// Actor identifies who performed an action. It is a tagged union rather
// than a bare string: AgentID is set only when Kind is ActorAgent.
type Actor struct {
	Kind    ActorKind `json:"kind"`
	AgentID string    `json:"agentId,omitempty"`
}

// UserActor is the anonymous human operator.
func UserActor() Actor { return Actor{Kind: ActorUser} }

// SystemActor is the engine acting on its own behalf.
func SystemActor() Actor { return Actor{Kind: ActorSystem} }

// AgentActor identifies a roster agent by id.
func AgentActor(id string) Actor { return Actor{Kind: ActorAgent, AgentID: id} }

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool { return a.Kind == "" }

// DisplayName resolves a human-readable name from the tag alone.
func (a Actor) DisplayName() string {
	switch a.Kind {
	case ActorUser:
		return "User"
	case ActorSystem:
		return "System"
	case ActorAgent:
		return cases.Title(language.English).String(a.AgentID)
	default:
		return "Unknown"
	}
}

// Ref returns the stable string form used for subscription and
// notification recipient keys.
func (a Actor) Ref() string {
	if a.Kind == ActorAgent {
		return a.AgentID
	}
	return string(a.Kind)
}

// Task represents a single unit of work.
type Task struct {
	// Identity
	ID         string `json:"id"`
	BusinessID string `json:"businessId"` // Tenant
	Title      string `json:"title"`
	Description string `json:"description,omitempty"`

	// Workflow state
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`

	// Grouping
	EpicID     string   `json:"epicId,omitempty"`
	ParentID   string   `json:"parentId,omitempty"`
	SubtaskIDs []string `json:"subtaskIds,omitempty"`

	// Assignment
	AssigneeIDs []string `json:"assigneeIds,omitempty"`

	// Blocking graph. BlockedBy and the referenced blockers' Blocks lists
	// are mutual inverses: B in T.BlockedBy <=> T in B.Blocks.
	BlockedBy []string `json:"blockedBy,omitempty"`
	Blocks    []string `json:"blocks,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// TicketNumber is the stable human-readable sequential id, assigned
	// once per tenant and never reused.
	TicketNumber int64 `json:"ticketNumber,omitempty"`

	CreatedBy Actor `json:"createdBy"`

	// Lifecycle timestamps
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TicketRef returns the human-readable ticket reference, e.g. "TASK-42".
func (t *Task) TicketRef() string {
	if t.TicketNumber == 0 {
		return t.ID
	}
	return fmt.Sprintf("TASK-%d", t.TicketNumber)
}

// HasAssignee reports whether the actor id is in the assignee set.
func (t *Task) HasAssignee(actorID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == actorID {
			return true
		}
	}
	return false
}

// EpicStatus represents the lifecycle of an epic.
type EpicStatus string

const (
	EpicPlanning  EpicStatus = "planning"
	EpicActive    EpicStatus = "active"
	EpicCompleted EpicStatus = "completed"
)

// Epic groups tasks into a larger initiative and tracks aggregate progress.
type Epic struct {
	ID         string     `json:"id"`
	BusinessID string     `json:"businessId"`
	Title      string     `json:"title"`
	Status     EpicStatus `json:"status"`

	// TaskIDs is denormalized membership: it must equal the set of tasks
	// whose EpicID points at this epic.
	TaskIDs []string `json:"taskIds,omitempty"`

	// Progress is derived from member task statuses, 0..100.
	Progress int `json:"progress"`

	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"` // Set once at 100%
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasTask reports whether the task id is in the membership set.
func (e *Epic) HasTask(taskID string) bool {
	for _, id := range e.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// Agent is a roster entry for an autonomous actor that can be assigned work.
type Agent struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"` // frontend, backend, infra, qa, docs, ...
	SkillLevel int    `json:"skillLevel"`
	IsLead     bool   `json:"isLead"`

	// Workload counters, maintained by the engine on transitions.
	TasksInProgress int `json:"tasksInProgress"`
	TasksCompleted  int `json:"tasksCompleted"`
}

// NotificationType classifies notifications for rendering and filtering.
type NotificationType string

const (
	NotifyAssigned   NotificationType = "assigned"
	NotifyUnblocked  NotificationType = "unblocked"
	NotifyMention    NotificationType = "mention"
	NotifyBroadcast  NotificationType = "broadcast"
	NotifyNewComment NotificationType = "new_comment"
	NotifyEscalation NotificationType = "escalation"
)

// Notification is a targeted message for one recipient actor.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	Type        NotificationType `json:"type"`
	Content     string           `json:"content"`
	Read        bool             `json:"read"`
	TaskID      string           `json:"taskId,omitempty"`
	MessageID   string           `json:"messageId,omitempty"`
	ExpiresAt   time.Time        `json:"expiresAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// ActivityType classifies audit entries.
type ActivityType string

const (
	ActivityTaskCreated    ActivityType = "task_created"
	ActivityStatusChanged  ActivityType = "status_changed"
	ActivityAssigned       ActivityType = "assigned"
	ActivityDependencyAdd  ActivityType = "dependency_added"
	ActivityDependencyDrop ActivityType = "dependency_removed"
	ActivityAutoBlocked    ActivityType = "auto_blocked"
	ActivityAutoUnblocked  ActivityType = "auto_unblocked"
	ActivityCommented      ActivityType = "commented"
	ActivityMentioned      ActivityType = "mentioned"
	ActivityBroadcast      ActivityType = "broadcast"
	ActivityTaskDeleted    ActivityType = "task_deleted"
	ActivityEpicCompleted  ActivityType = "epic_completed"
	ActivityEpicDeleted    ActivityType = "epic_deleted"
)

// Activity is an append-only audit entry describing one state change.
type Activity struct {
	ID        string       `json:"id"`
	Actor     Actor        `json:"actor"`
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	TaskID    string       `json:"taskId,omitempty"`
	EpicID    string       `json:"epicId,omitempty"`
	TicketRef string       `json:"ticketRef,omitempty"`
	Before    string       `json:"before,omitempty"`
	After     string       `json:"after,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SubscriptionLevel controls how much thread traffic a subscriber receives.
type SubscriptionLevel string

const (
	SubscribeAll      SubscriptionLevel = "all"
	SubscribeMentions SubscriptionLevel = "mentions"
)

// Subscription links an actor to a task thread for future fan-out.
type Subscription struct {
	ActorID   string            `json:"actorId"`
	TaskID    string            `json:"taskId"`
	Level     SubscriptionLevel `json:"level"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Comment is a message posted on a task thread.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Author    Actor     `json:"author"`
	Content   string    `json:"content"`
	Mentions  []string  `json:"mentions,omitempty"` // Explicit actor ids
	Broadcast bool      `json:"broadcast"`          // Addressed to "all"
	CreatedAt time.Time `json:"createdAt"`
}

// MaxTitleLength bounds task and epic titles.
const MaxTitleLength = 200

// ValidateTitle checks schema constraints on a title.
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return &ValidationError{Field: "title", Value: title, Reason: "must not be empty"}
	}
	if len(trimmed) > MaxTitleLength {
		return &ValidationError{Field: "title", Value: trimmed[:20] + "...", Reason: fmt.Sprintf("exceeds %d characters", MaxTitleLength)}
	}
	return nil
}
