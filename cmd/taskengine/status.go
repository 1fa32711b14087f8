package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/persistence"
	"github.com/aristath/taskengine/internal/scheduler"
)

const maxErrorWidth = 60

type statusOptions struct {
	*rootOptions
	dbPath string
	asJSON bool
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	opts := &statusOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the tasks in the last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Checkpoint database path (overrides config)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the checkpoint as JSON")
	return cmd
}

func (o *statusOptions) run(cmd *cobra.Command) error {
	path := o.dbPath
	if path == "" {
		cfg, err := o.loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Persistence.Path
	}
	if path == "" {
		return errors.New("persistence is disabled; pass --db")
	}

	out := cmd.OutOrStdout()
	// Opening would create an empty database
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No checkpoint at %s\n", path)
		return nil
	}

	store, err := persistence.NewSQLiteStore(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, ok, err := store.LoadSnapshot(cmd.Context())
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "No checkpoint at %s\n", path)
		return nil
	}

	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Counts scheduler.StatusCounts `json:"counts"`
			scheduler.Snapshot
		}{countTasks(snap.Tasks), snap})
	}

	printStatus(out, snap)
	return nil
}

// countTasks aggregates stored tasks the way the scheduler does.
func countTasks(tasks []scheduler.Task) scheduler.StatusCounts {
	var c scheduler.StatusCounts
	for _, task := range tasks {
		c.Total++
		switch task.Status {
		case scheduler.TaskPending:
			c.Pending++
		case scheduler.TaskRunning:
			c.Running++
		case scheduler.TaskCompleted:
			c.Completed++
		case scheduler.TaskFailed:
			if task.RetryPending {
				c.RetryPending++
			} else {
				c.Failed++
			}
		case scheduler.TaskBlocked:
			c.Blocked++
		}
	}
	return c
}

func printStatus(w io.Writer, snap scheduler.Snapshot) {
	c := countTasks(snap.Tasks)
	fmt.Fprintf(w, "Checkpoint taken %s (%d tasks)\n", snap.TakenAt.Local().Format(time.DateTime), c.Total)
	fmt.Fprintf(w, "%s, %s, %s, %d pending\n\n",
		color.GreenString("%d completed", c.Completed),
		color.RedString("%d failed", c.Failed),
		color.MagentaString("%d blocked", c.Blocked),
		c.Pending+c.Running+c.RetryPending)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tRETRIES\tEXECUTOR\tLAST ERROR")
	for _, task := range snap.Tasks {
		lastErr := strings.Join(strings.Fields(task.LastError), " ")
		if task.RolledBack {
			lastErr = "rolled back: " + lastErr
		}
		if len(lastErr) > maxErrorWidth {
			lastErr = lastErr[:maxErrorWidth-3] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			task.ID, task.Status, task.RetryCount, task.MaxRetries, task.ExecutorType, lastErr)
	}
	tw.Flush()
}
