package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arctek/taskflow/workflow"
)

// Store implements workflow.Store using SQLite. The single-connection
// pool serializes writers, which satisfies the engine's store contract.
type Store struct {
	db *DB
}

var _ workflow.Store = (*Store)(nil)

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, business_id, title, description, status, priority,
	epic_id, parent_id, subtask_ids, assignee_ids, blocked_by, blocks, tags,
	ticket_number, created_by_kind, created_by_agent,
	created_at, started_at, completed_at, updated_at`

// --- Task Operations ---

// CreateTask inserts a new task.
func (s *Store) CreateTask(t *workflow.Task) error {
	subtasks, _ := json.Marshal(t.SubtaskIDs)
	assignees, _ := json.Marshal(t.AssigneeIDs)
	blockedBy, _ := json.Marshal(t.BlockedBy)
	blocks, _ := json.Marshal(t.Blocks)
	tags, _ := json.Marshal(t.Tags)

	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.BusinessID, t.Title, t.Description, t.Status, t.Priority,
		t.EpicID, t.ParentID, subtasks, assignees, blockedBy, blocks, tags,
		t.TicketNumber, t.CreatedBy.Kind, t.CreatedBy.AgentID,
		t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*workflow.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &workflow.NotFoundError{Entity: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetAllTasks retrieves all tasks, most urgent first.
func (s *Store) GetAllTasks() ([]workflow.Task, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM tasks ORDER BY priority, created_at`)
}

// GetTasksByStatus retrieves tasks with a specific status.
func (s *Store) GetTasksByStatus(status workflow.Status) ([]workflow.Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority, created_at`, status)
}

// GetTasksByEpic retrieves the member tasks of an epic.
func (s *Store) GetTasksByEpic(epicID string) ([]workflow.Task, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM tasks WHERE epic_id = ? ORDER BY priority, created_at`, epicID)
}

func (s *Store) queryTasks(query string, args ...interface{}) ([]workflow.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []workflow.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask updates an existing task.
func (s *Store) UpdateTask(t *workflow.Task) error {
	subtasks, _ := json.Marshal(t.SubtaskIDs)
	assignees, _ := json.Marshal(t.AssigneeIDs)
	blockedBy, _ := json.Marshal(t.BlockedBy)
	blocks, _ := json.Marshal(t.Blocks)
	tags, _ := json.Marshal(t.Tags)

	result, err := s.db.Exec(`
		UPDATE tasks SET
			business_id = ?, title = ?, description = ?, status = ?, priority = ?,
			epic_id = ?, parent_id = ?, subtask_ids = ?, assignee_ids = ?,
			blocked_by = ?, blocks = ?, tags = ?, ticket_number = ?,
			created_by_kind = ?, created_by_agent = ?,
			created_at = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		t.BusinessID, t.Title, t.Description, t.Status, t.Priority,
		t.EpicID, t.ParentID, subtasks, assignees,
		blockedBy, blocks, tags, t.TicketNumber,
		t.CreatedBy.Kind, t.CreatedBy.AgentID,
		t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "task", ID: t.ID}
	}
	return nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(id string) error {
	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "task", ID: id}
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*workflow.Task, error) {
	var t workflow.Task
	var description, epicID, parentID sql.NullString
	var subtasks, assignees, blockedBy, blocks, tags []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.BusinessID, &t.Title, &description, &t.Status, &t.Priority,
		&epicID, &parentID, &subtasks, &assignees, &blockedBy, &blocks, &tags,
		&t.TicketNumber, &t.CreatedBy.Kind, &t.CreatedBy.AgentID,
		&t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.EpicID = epicID.String
	t.ParentID = parentID.String
	json.Unmarshal(subtasks, &t.SubtaskIDs)
	json.Unmarshal(assignees, &t.AssigneeIDs)
	json.Unmarshal(blockedBy, &t.BlockedBy)
	json.Unmarshal(blocks, &t.Blocks)
	json.Unmarshal(tags, &t.Tags)
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	return &t, nil
}

// --- Epic Operations ---

// CreateEpic inserts a new epic.
func (s *Store) CreateEpic(e *workflow.Epic) error {
	taskIDs, _ := json.Marshal(e.TaskIDs)
	_, err := s.db.Exec(`
		INSERT INTO epics (id, business_id, title, status, task_ids, progress, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.BusinessID, e.Title, e.Status, taskIDs, e.Progress, e.CreatedAt, nullTime(e.CompletedAt), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create epic: %w", err)
	}
	return nil
}

// GetEpic retrieves an epic by ID.
func (s *Store) GetEpic(id string) (*workflow.Epic, error) {
	row := s.db.QueryRow(`
		SELECT id, business_id, title, status, task_ids, progress, created_at, completed_at, updated_at
		FROM epics WHERE id = ?
	`, id)
	e, err := scanEpic(row)
	if err == sql.ErrNoRows {
		return nil, &workflow.NotFoundError{Entity: "epic", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic: %w", err)
	}
	return e, nil
}

// GetAllEpics retrieves all epics.
func (s *Store) GetAllEpics() ([]workflow.Epic, error) {
	rows, err := s.db.Query(`
		SELECT id, business_id, title, status, task_ids, progress, created_at, completed_at, updated_at
		FROM epics ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query epics: %w", err)
	}
	defer rows.Close()

	var epics []workflow.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan epic: %w", err)
		}
		epics = append(epics, *e)
	}
	return epics, rows.Err()
}

// UpdateEpic updates an existing epic.
func (s *Store) UpdateEpic(e *workflow.Epic) error {
	taskIDs, _ := json.Marshal(e.TaskIDs)
	result, err := s.db.Exec(`
		UPDATE epics SET business_id = ?, title = ?, status = ?, task_ids = ?,
			progress = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, e.BusinessID, e.Title, e.Status, taskIDs, e.Progress, nullTime(e.CompletedAt), e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update epic: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "epic", ID: e.ID}
	}
	return nil
}

// DeleteEpic removes an epic.
func (s *Store) DeleteEpic(id string) error {
	result, err := s.db.Exec(`DELETE FROM epics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete epic: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "epic", ID: id}
	}
	return nil
}

func scanEpic(row scanner) (*workflow.Epic, error) {
	var e workflow.Epic
	var taskIDs []byte
	var completedAt sql.NullTime

	err := row.Scan(&e.ID, &e.BusinessID, &e.Title, &e.Status, &taskIDs,
		&e.Progress, &e.CreatedAt, &completedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(taskIDs, &e.TaskIDs)
	if completedAt.Valid {
		e.CompletedAt = completedAt.Time
	}
	return &e, nil
}

// --- Agent Roster ---

// CreateAgent inserts a roster entry.
func (s *Store) CreateAgent(a *workflow.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, role, skill_level, is_lead, tasks_in_progress, tasks_completed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Role, a.SkillLevel, a.IsLead, a.TasksInProgress, a.TasksCompleted)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves a roster entry by ID.
func (s *Store) GetAgent(id string) (*workflow.Agent, error) {
	var a workflow.Agent
	err := s.db.QueryRow(`
		SELECT id, name, role, skill_level, is_lead, tasks_in_progress, tasks_completed
		FROM agents WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.Role, &a.SkillLevel, &a.IsLead, &a.TasksInProgress, &a.TasksCompleted)
	if err == sql.ErrNoRows {
		return nil, &workflow.NotFoundError{Entity: "agent", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

// GetAllAgents retrieves the full roster.
func (s *Store) GetAllAgents() ([]workflow.Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, name, role, skill_level, is_lead, tasks_in_progress, tasks_completed
		FROM agents ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []workflow.Agent
	for rows.Next() {
		var a workflow.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.SkillLevel, &a.IsLead,
			&a.TasksInProgress, &a.TasksCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent updates a roster entry.
func (s *Store) UpdateAgent(a *workflow.Agent) error {
	result, err := s.db.Exec(`
		UPDATE agents SET name = ?, role = ?, skill_level = ?, is_lead = ?,
			tasks_in_progress = ?, tasks_completed = ?
		WHERE id = ?
	`, a.Name, a.Role, a.SkillLevel, a.IsLead, a.TasksInProgress, a.TasksCompleted, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "agent", ID: a.ID}
	}
	return nil
}

// --- Notifications ---

// AddNotification stores a notification.
func (s *Store) AddNotification(n *workflow.Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, recipient_id, type, content, read, task_id, message_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.RecipientID, n.Type, n.Content, n.Read, n.TaskID, n.MessageID, nullTime(n.ExpiresAt), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add notification: %w", err)
	}
	return nil
}

// GetNotifications retrieves notifications for a recipient, newest first.
func (s *Store) GetNotifications(recipientID string, unreadOnly bool) ([]workflow.Notification, error) {
	query := `
		SELECT id, recipient_id, type, content, read, task_id, message_id, expires_at, created_at
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []workflow.Notification
	for rows.Next() {
		var n workflow.Notification
		var taskID, messageID sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Content, &n.Read,
			&taskID, &messageID, &expiresAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.TaskID = taskID.String
		n.MessageID = messageID.String
		if expiresAt.Valid {
			n.ExpiresAt = expiresAt.Time
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead marks a notification read.
func (s *Store) MarkNotificationRead(id string) error {
	result, err := s.db.Exec(`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &workflow.NotFoundError{Entity: "notification", ID: id}
	}
	return nil
}

// DeleteExpiredNotifications removes notifications past their expiry.
func (s *Store) DeleteExpiredNotifications(now time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DeleteNotificationsForTask removes all notifications referencing a task.
func (s *Store) DeleteNotificationsForTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM notifications WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete notifications: %w", err)
	}
	return nil
}

// --- Activity Log ---

// AddActivity appends an audit entry.
func (s *Store) AddActivity(a *workflow.Activity) error {
	_, err := s.db.Exec(`
		INSERT INTO activities (id, actor_kind, actor_agent, type, message, task_id, epic_id, ticket_ref, before, after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Actor.Kind, a.Actor.AgentID, a.Type, a.Message, a.TaskID, a.EpicID, a.TicketRef, a.Before, a.After, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add activity: %w", err)
	}
	return nil
}

// GetActivitiesForTask retrieves the audit trail of one task, oldest first.
func (s *Store) GetActivitiesForTask(taskID string) ([]workflow.Activity, error) {
	return s.queryActivities(`
		SELECT id, actor_kind, actor_agent, type, message, task_id, epic_id, ticket_ref, before, after, created_at
		FROM activities WHERE task_id = ? ORDER BY created_at
	`, taskID)
}

// GetRecentActivities retrieves the newest audit entries across all tasks.
func (s *Store) GetRecentActivities(limit int) ([]workflow.Activity, error) {
	return s.queryActivities(`
		SELECT id, actor_kind, actor_agent, type, message, task_id, epic_id, ticket_ref, before, after, created_at
		FROM activities ORDER BY created_at DESC LIMIT ?
	`, limit)
}

func (s *Store) queryActivities(query string, args ...interface{}) ([]workflow.Activity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []workflow.Activity
	for rows.Next() {
		var a workflow.Activity
		var taskID, epicID, ticketRef, before, after sql.NullString
		if err := rows.Scan(&a.ID, &a.Actor.Kind, &a.Actor.AgentID, &a.Type, &a.Message,
			&taskID, &epicID, &ticketRef, &before, &after, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.TaskID = taskID.String
		a.EpicID = epicID.String
		a.TicketRef = ticketRef.String
		a.Before = before.String
		a.After = after.String
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// --- Comments ---

// AddComment stores a comment.
func (s *Store) AddComment(c *workflow.Comment) error {
	mentions, _ := json.Marshal(c.Mentions)
	_, err := s.db.Exec(`
		INSERT INTO comments (id, task_id, author_kind, author_agent, content, mentions, broadcast, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.TaskID, c.Author.Kind, c.Author.AgentID, c.Content, mentions, c.Broadcast, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	return nil
}

// GetCommentsForTask retrieves a task's thread, oldest first.
func (s *Store) GetCommentsForTask(taskID string) ([]workflow.Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, author_kind, author_agent, content, mentions, broadcast, created_at
		FROM comments WHERE task_id = ? ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []workflow.Comment
	for rows.Next() {
		var c workflow.Comment
		var mentions []byte
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author.Kind, &c.Author.AgentID,
			&c.Content, &mentions, &c.Broadcast, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		json.Unmarshal(mentions, &c.Mentions)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// DeleteCommentsForTask removes a task's thread.
func (s *Store) DeleteCommentsForTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM comments WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	return nil
}

// --- Subscriptions ---

// Subscribe records a thread subscription, idempotent on (actor, task).
func (s *Store) Subscribe(sub workflow.Subscription) error {
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (actor_id, task_id, level, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (actor_id, task_id) DO UPDATE SET level = excluded.level
	`, sub.ActorID, sub.TaskID, sub.Level, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// GetSubscribers retrieves all subscriptions on a task.
func (s *Store) GetSubscribers(taskID string) ([]workflow.Subscription, error) {
	rows, err := s.db.Query(`
		SELECT actor_id, task_id, level, created_at
		FROM subscriptions WHERE task_id = ? ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []workflow.Subscription
	for rows.Next() {
		var sub workflow.Subscription
		if err := rows.Scan(&sub.ActorID, &sub.TaskID, &sub.Level, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscriptionsForTask removes all subscriptions on a task.
func (s *Store) DeleteSubscriptionsForTask(taskID string) error {
	if _, err := s.db.Exec(`DELETE FROM subscriptions WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete subscriptions: %w", err)
	}
	return nil
}

// --- Key/Value State ---

// GetKV reads a key, reporting whether it exists.
func (s *Store) GetKV(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read kv: %w", err)
	}
	return value, true, nil
}

// SetKV upserts a key.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write kv: %w", err)
	}
	return nil
}

// NextCounter atomically increments and returns the named counter.
func (s *Store) NextCounter(key string) (int64, error) {
	var value int64
	err := s.db.QueryRow(`
		INSERT INTO counters (key, value) VALUES (?, 1)
		ON CONFLICT (key) DO UPDATE SET value = value + 1
		RETURNING value
	`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return value, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
