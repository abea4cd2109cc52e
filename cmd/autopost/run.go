package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Plan and dispatch due posts",
	}
	run.AddCommand(newRunAllCmd())
	run.AddCommand(newRunAccountCmd())
	return run
}

func newRunAllCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Dispatch due posts for every active account",
		Long: `Plans automation schedules and dispatches every due post once, then exits.
With --watch the scheduler keeps ticking until interrupted, reloading the
config file on change.

Exits non-zero when any post failed permanently during the run.`,
		Example: `  autopost run all
  autopost run all --watch --config /etc/autopost/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, "", watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running until interrupted")
	return cmd
}

func newRunAccountCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:     "account <name>",
		Short:   "Dispatch due posts for one account",
		Example: `  autopost run account "Daily Bread"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, args[0], watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running until interrupted")
	return cmd
}

func runScheduler(cmd *cobra.Command, account string, watch bool) error {
	a, err := openApp(app.Options{Account: account}, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	if watch {
		if err := a.Serve(ctx); err != nil {
			return err
		}
	} else {
		if err := a.Start(ctx); err != nil {
			return err
		}
		rep, _ := a.RunOnce(ctx)
		printReport(cmd, rep)
	}
	if n := a.Failures(); n > 0 {
		return fmt.Errorf("%d post(s) failed", n)
	}
	return nil
}

func printReport(cmd *cobra.Command, rep scheduler.TickReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "planned %d, due %d: posted %d, requeued %d, deferred %d, released %d, failed %d, skipped %d (%s)\n",
		rep.Planned, rep.Due, rep.Posted, rep.Requeued, rep.Deferred, rep.Released, rep.Failed, rep.Skipped, rep.Took.Round(time.Millisecond))
	for _, r := range rep.Results {
		if r.Err == nil {
			continue
		}
		fmt.Fprintf(out, "  %s %s/%s %s: %v\n", r.Outcome, r.AccountID, r.Platform, r.Reason, r.Err)
	}
}
