// Package db provides SQLite-based persistence for the workflow engine.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writers: the engine's read-then-write sequences rely on
	// store-level serialization.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{DB: db, path: dbPath}

	// Run migrations
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// migrate runs database schema migrations.
func (d *DB) migrate() error {
	// Create migrations table
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
		{3, migration3},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: Core tables
const migration1 = `
-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'backlog',
    priority TEXT NOT NULL DEFAULT 'P2',
    epic_id TEXT,
    parent_id TEXT,
    subtask_ids TEXT,
    assignee_ids TEXT,
    blocked_by TEXT,
    blocks TEXT,
    tags TEXT,
    ticket_number INTEGER DEFAULT 0,
    created_by_kind TEXT NOT NULL DEFAULT 'system',
    created_by_agent TEXT DEFAULT '',
    created_at DATETIME NOT NULL,
    started_at DATETIME,
    completed_at DATETIME,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_epic ON tasks(epic_id);
CREATE INDEX IF NOT EXISTS idx_tasks_business ON tasks(business_id);

-- Epics table
CREATE TABLE IF NOT EXISTS epics (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'planning',
    task_ids TEXT,
    progress INTEGER DEFAULT 0,
    created_at DATETIME NOT NULL,
    completed_at DATETIME,
    updated_at DATETIME NOT NULL
);

-- Agent roster
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    role TEXT NOT NULL,
    skill_level INTEGER DEFAULT 0,
    is_lead INTEGER DEFAULT 0,
    tasks_in_progress INTEGER DEFAULT 0,
    tasks_completed INTEGER DEFAULT 0
);
`

// Migration 2: Notifications, activity log, comments, subscriptions
const migration2 = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    recipient_id TEXT NOT NULL,
    type TEXT NOT NULL,
    content TEXT NOT NULL,
    read INTEGER DEFAULT 0,
    task_id TEXT,
    message_id TEXT,
    expires_at DATETIME,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id);
CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id);
CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications(expires_at);

CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    actor_kind TEXT NOT NULL,
    actor_agent TEXT DEFAULT '',
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    task_id TEXT,
    epic_id TEXT,
    ticket_ref TEXT,
    before TEXT,
    after TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_task ON activities(task_id);
CREATE INDEX IF NOT EXISTS idx_activities_created ON activities(created_at);

CREATE TABLE IF NOT EXISTS comments (
    id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    author_kind TEXT NOT NULL,
    author_agent TEXT DEFAULT '',
    content TEXT NOT NULL,
    mentions TEXT,
    broadcast INTEGER DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id);

CREATE TABLE IF NOT EXISTS subscriptions (
    actor_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT 'all',
    created_at DATETIME NOT NULL,
    PRIMARY KEY (actor_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_task ON subscriptions(task_id);
`

// Migration 3: Generic key/value state and monotonic counters
const migration3 = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);
`

// Close closes the database connection.
func (d *DB) Close() error {
	return d.DB.Close()
}
