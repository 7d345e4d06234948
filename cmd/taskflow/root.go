package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arctek/taskflow"
	"github.com/arctek/taskflow/internal/config"
	"github.com/arctek/taskflow/internal/db"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskflow",
		Short: "Taskflow is a task workflow engine with dependencies, epics, and notifications",
	}

	cmd.Version = version

	cmd.AddCommand(
		newSrvCmd(cfg),
		newMigrateCmd(cfg),
		newStatsCmd(cfg),
		newCreateCmd(cfg),
		newAgentCmd(cfg),
	)

	return cmd
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func engineConfig(cfg *config.Config) taskflow.Config {
	return taskflow.Config{
		RateMaxCalls:         cfg.Engine.RateMaxCalls,
		RateWindow:           time.Duration(cfg.Engine.RateWindowSeconds) * time.Second,
		NotificationTTL:      time.Duration(cfg.Engine.NotificationTTLHours) * time.Hour,
		EscalateBlockedAfter: time.Duration(cfg.Engine.EscalateBlockedAfterHours) * time.Hour,
	}
}

// openEngine opens the database and builds an engine over it. The caller
// closes the returned DB.
func openEngine(cfg *config.Config, logger *slog.Logger) (*taskflow.Engine, *db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	store := db.NewStore(database)
	return taskflow.NewEngine(store, engineConfig(cfg), logger), database, nil
}
