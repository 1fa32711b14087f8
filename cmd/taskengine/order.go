package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/plan"
	"github.com/aristath/taskengine/internal/scheduler"
)

func newOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <plan>",
		Short: "Print the order a plan's tasks would run in",
		Long: `Order validates a plan and prints its tasks in dependency order,
highest priority first among tasks that could run together. Nothing is
executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := plan.Load(args[0])
			if err != nil {
				return err
			}

			s := scheduler.New(scheduler.DefaultConfig())
			defer s.Close()
			if _, err := plan.Apply(s, f, ""); err != nil {
				return err
			}

			printOrder(cmd.OutOrStdout(), s.GetExecutionOrder())
			return nil
		},
	}
}

func printOrder(w io.Writer, tasks []scheduler.Task) {
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for i, task := range tasks {
		line := fmt.Sprintf("%3d. %s", i+1, bold(task.ID))
		if task.Name != "" && task.Name != task.ID {
			line += " " + task.Name
		}
		line += " " + priorityColor(task.Priority)("["+task.Priority.String()+"]")
		if len(task.Dependencies) > 0 {
			line += dim(" after " + strings.Join(task.Dependencies, ", "))
		}
		fmt.Fprintln(w, line)
	}
}

func priorityColor(p scheduler.Priority) func(a ...any) string {
	switch p {
	case scheduler.PriorityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case scheduler.PriorityHigh:
		return color.New(color.FgYellow).SprintFunc()
	case scheduler.PriorityLow:
		return color.New(color.Faint).SprintFunc()
	default:
		return fmt.Sprint
	}
}
