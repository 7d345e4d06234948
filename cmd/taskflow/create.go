package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/taskflow"
	"github.com/arctek/taskflow/internal/config"
	"github.com/arctek/taskflow/workflow"
)

func newCreateCmd(cfg *config.Config) *cobra.Command {
	var (
		description string
		priority    string
		businessID  string
		epicID      string
		assignees   []string
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			task, err := engine.CreateTask(taskflow.CreateTaskRequest{
				BusinessID:  businessID,
				Title:       args[0],
				Description: description,
				Priority:    workflow.Priority(priority),
				EpicID:      epicID,
				AssigneeIDs: assignees,
				Tags:        tags,
				Actor:       workflow.UserActor(),
			})
			if err != nil {
				return err
			}

			fmt.Printf("Created %s (%s)\n", task.TicketRef(), task.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description (markdown)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "P2", "priority (P0..P3)")
	cmd.Flags().StringVar(&businessID, "business", "", "tenant id")
	cmd.Flags().StringVar(&epicID, "epic", "", "epic id")
	cmd.Flags().StringSliceVar(&assignees, "assign", nil, "assignee agent ids")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags")
	return cmd
}
