package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/taskflow/internal/config"
	"github.com/arctek/taskflow/workflow"
)

func newAgentCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the agent roster",
	}
	cmd.AddCommand(newAgentAddCmd(cfg), newAgentListCmd(cfg))
	return cmd
}

func newAgentAddCmd(cfg *config.Config) *cobra.Command {
	var (
		name       string
		role       string
		skillLevel int
		isLead     bool
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add an agent to the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			if name == "" {
				name = args[0]
			}
			agent := &workflow.Agent{
				ID:         args[0],
				Name:       name,
				Role:       role,
				SkillLevel: skillLevel,
				IsLead:     isLead,
			}
			if err := engine.Store().CreateAgent(agent); err != nil {
				return err
			}
			fmt.Printf("Added agent %s (%s)\n", agent.ID, agent.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "backend", "role (frontend, backend, infra, qa, docs)")
	cmd.Flags().IntVar(&skillLevel, "skill", 1, "skill level")
	cmd.Flags().BoolVar(&isLead, "lead", false, "mark as lead")
	return cmd
}

func newAgentListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the agent roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cfg)

			engine, database, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer database.Close()

			agents, err := engine.Store().GetAllAgents()
			if err != nil {
				return err
			}
			for _, a := range agents {
				lead := ""
				if a.IsLead {
					lead = " (lead)"
				}
				fmt.Printf("%-16s %-10s in-progress=%d completed=%d%s\n",
					a.ID, a.Role, a.TasksInProgress, a.TasksCompleted, lead)
			}
			return nil
		},
	}
}
