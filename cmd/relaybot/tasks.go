package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/countlessbugs/relaybot/internal/config"
	"github.com/countlessbugs/relaybot/internal/scheduler"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the scheduled-task store",
	}
	cmd.AddCommand(newTasksListCmd())
	return cmd
}

func newTasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every persisted scheduled task",
		RunE:  runTasksList,
	}
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	paths := pathsFromFlags(cmd)
	cfg, err := config.Load(paths.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sched := scheduler.New(cfg.Scheduler.TasksPath, nil, nil, nil, nil)
	tasks, err := sched.ListTasks()
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("no scheduled tasks")
		return nil
	}
	for _, t := range tasks {
		status := "pending"
		if t.LastRun != nil {
			status = "last run " + t.LastRun.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s\t%-12s\t%-20s\t%s\t%s\n", t.TaskID, t.Kind, t.Trigger, t.Name, status)
	}
	return nil
}
