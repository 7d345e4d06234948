package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/taskflow/internal/config"
	"github.com/arctek/taskflow/workflow"
)

func newStatsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print board statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			tasks, err := engine.Store().GetAllTasks()
			if err != nil {
				return err
			}
			epics, err := engine.Store().GetAllEpics()
			if err != nil {
				return err
			}

			counts := make(map[workflow.Status]int)
			for _, task := range tasks {
				counts[task.Status]++
			}

			fmt.Printf("Tasks: %d\n", len(tasks))
			for _, status := range []workflow.Status{
				workflow.StatusBacklog, workflow.StatusReady, workflow.StatusInProgress,
				workflow.StatusReview, workflow.StatusBlocked, workflow.StatusDone,
			} {
				fmt.Printf("  %-12s %d\n", status, counts[status])
			}
			fmt.Printf("Epics: %d\n", len(epics))
			for _, epic := range epics {
				fmt.Printf("  %-30s %3d%% (%s)\n", epic.Title, epic.Progress, epic.Status)
			}
			return nil
		},
	}
}
