package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/orchestrator"
	"github.com/aristath/taskengine/internal/scheduler"
	"github.com/aristath/taskengine/internal/tui"
)

// errTasksFailed is returned when a run ends with failed or blocked tasks.
var errTasksFailed = errors.New("run finished with failures")

type runOptions struct {
	*rootOptions
	tui         bool
	resume      bool
	metricsAddr string
	dbPath      string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Run the tasks in a plan file",
		Long: `Run loads a YAML or JSON plan and executes its tasks through the
configured executors until nothing more can make progress.

With --resume, the last checkpoint is restored first and plan tasks it
already contains are kept as they were.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show the live terminal monitor")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Restore the last checkpoint before loading the plan")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Checkpoint database path (overrides config)")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, planPath string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.dbPath != "" {
		cfg.Persistence.Path = o.dbPath
	}

	// The monitor owns the terminal
	logOut := cmd.ErrOrStderr()
	if o.tui {
		logOut = io.Discard
	}
	logger := newLogger(cfg, logOut)

	e, err := orchestrator.New(cfg, orchestrator.WithLogger(logger))
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if o.resume {
		ok, err := e.Resume(ctx)
		if err != nil {
			return err
		}
		if !ok {
			logger.Info("no checkpoint to resume from")
		}
	}
	if _, err := e.LoadPlan(planPath); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.tui {
		err = runWithMonitor(ctx, e)
	} else {
		e.Bus().OnEvent(newEventPrinter(out).Print)
		err = e.Run(ctx)
	}

	// Close drains event handlers before the summary is printed
	if closeErr := e.Close(); closeErr != nil {
		logger.Warn("shutdown incomplete", "err", closeErr)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("run interrupted, continue with --resume: %w", err)
	}
	if err != nil {
		return err
	}

	counts := e.Scheduler().GetStatus()
	printSummary(out, counts)
	if counts.Failed > 0 || counts.Blocked > 0 {
		return fmt.Errorf("%w: %d failed, %d blocked", errTasksFailed, counts.Failed, counts.Blocked)
	}
	return nil
}

// runWithMonitor runs the engine behind the terminal monitor. Quitting the
// monitor interrupts the run.
func runWithMonitor(ctx context.Context, e *orchestrator.Engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx)
	}()

	tuiErr := tui.Run(ctx, e.Bus(), e.Scheduler())
	cancel()
	runErr := <-errCh
	if tuiErr != nil {
		return tuiErr
	}
	return runErr
}

// eventPrinter writes one line per lifecycle event.
type eventPrinter struct {
	w io.Writer

	running   func(a ...any) string
	completed func(a ...any) string
	failed    func(a ...any) string
	retrying  func(a ...any) string
	blocked   func(a ...any) string
	dim       func(a ...any) string
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{
		w:         w,
		running:   color.New(color.FgYellow, color.Bold).SprintFunc(),
		completed: color.New(color.FgGreen, color.Bold).SprintFunc(),
		failed:    color.New(color.FgRed, color.Bold).SprintFunc(),
		retrying:  color.New(color.FgHiYellow).SprintFunc(),
		blocked:   color.New(color.FgMagenta).SprintFunc(),
		dim:       color.New(color.Faint).SprintFunc(),
	}
}

// Print formats ev. It satisfies events.Handler.
func (p *eventPrinter) Print(ev events.Event) {
	stamp := p.dim(ev.Timestamp.Format("15:04:05"))

	var line string
	switch pl := ev.Payload.(type) {
	case events.StartedPayload:
		line = fmt.Sprintf("%s %s (%s, attempt %d)", p.running("started  "), ev.TaskID, pl.ExecutorType, pl.Attempt)
	case events.CompletedPayload:
		line = fmt.Sprintf("%s %s in %v", p.completed("completed"), ev.TaskID, pl.Duration.Round(time.Millisecond))
	case events.RetriedPayload:
		line = fmt.Sprintf("%s %s %s: %s (retry %d/%d in %v)", p.retrying("retrying "), ev.TaskID,
			pl.Error.Kind, pl.Error.Message, pl.RetryCount, pl.MaxRetries, pl.Delay)
	case events.FailedPayload:
		line = fmt.Sprintf("%s %s %s: %s (%s)", p.failed("failed   "), ev.TaskID,
			pl.Error.Kind, pl.Error.Message, pl.Action)
	case events.BlockedPayload:
		reason := pl.Reason
		if pl.BlockedBy != "" {
			reason += " " + pl.BlockedBy
		}
		line = fmt.Sprintf("%s %s (%s)", p.blocked("blocked  "), ev.TaskID, reason)
	default:
		line = fmt.Sprintf("%-9s %s", ev.Type, ev.TaskID)
	}
	fmt.Fprintf(p.w, "%s %s\n", stamp, line)
}

func printSummary(w io.Writer, c scheduler.StatusCounts) {
	parts := []string{
		color.GreenString("%d completed", c.Completed),
		color.RedString("%d failed", c.Failed),
		color.MagentaString("%d blocked", c.Blocked),
	}
	if c.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", c.Pending))
	}
	fmt.Fprintf(w, "\n%d tasks: %s\n", c.Total, strings.Join(parts, ", "))
}
