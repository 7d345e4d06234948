package workflow

import "time"

// Store is the persistence contract for the workflow engine. The host
// store serializes operations touching the same record and gives
// all-or-nothing visibility of writes within one logical mutation; the
// engine implements no locking of its own.
//
// Lookup methods return *NotFoundError when the record does not exist.
type Store interface {
	// Tasks
	GetTask(id string) (*Task, error)
	GetAllTasks() ([]Task, error)
	GetTasksByStatus(status Status) ([]Task, error)
	GetTasksByEpic(epicID string) ([]Task, error)
	CreateTask(t *Task) error
	UpdateTask(t *Task) error
	DeleteTask(id string) error

	// Epics
	GetEpic(id string) (*Epic, error)
	GetAllEpics() ([]Epic, error)
	CreateEpic(e *Epic) error
	UpdateEpic(e *Epic) error
	DeleteEpic(id string) error

	// Agent roster
	GetAgent(id string) (*Agent, error)
	GetAllAgents() ([]Agent, error)
	CreateAgent(a *Agent) error
	UpdateAgent(a *Agent) error

	// Notifications
	AddNotification(n *Notification) error
	GetNotifications(recipientID string, unreadOnly bool) ([]Notification, error)
	MarkNotificationRead(id string) error
	DeleteExpiredNotifications(now time.Time) (int, error)
	DeleteNotificationsForTask(taskID string) error

	// Activity log (append-only)
	AddActivity(a *Activity) error
	GetActivitiesForTask(taskID string) ([]Activity, error)
	GetRecentActivities(limit int) ([]Activity, error)

	// Comments
	AddComment(c *Comment) error
	GetCommentsForTask(taskID string) ([]Comment, error)
	DeleteCommentsForTask(taskID string) error

	// Thread subscriptions
	Subscribe(sub Subscription) error // idempotent on (actor, task)
	GetSubscribers(taskID string) ([]Subscription, error)
	DeleteSubscriptionsForTask(taskID string) error

	// Generic key/value state: rate-limit windows, misc flags.
	GetKV(key string) (string, bool, error)
	SetKV(key, value string) error

	// NextCounter atomically increments and returns the named monotonic
	// counter (per-tenant ticket numbers).
	NextCounter(key string) (int64, error)
}
