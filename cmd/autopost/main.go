package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/config"

	_ "time/tzdata"
)

var (
	cfgPath  string
	logLevel string
	envFiles []string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autopost",
		Short:         "Generate and publish scheduled social and blog posts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the config file (yaml or json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (trace|debug|info|warn|error)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "KEY=value files loaded before the config; missing files are ignored")

	root.AddCommand(newRunCmd())
	root.AddCommand(newPostCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newAccountCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newQueueCmd())
	return root
}

// openApp builds the app for one command. Interactive commands log
// warnings only unless --log-level says otherwise.
func openApp(opts app.Options, quiet bool) (*app.App, error) {
	opts.LogLevel = logLevel
	if quiet && opts.LogLevel == "" {
		opts.LogLevel = "warn"
	}
	if _, err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	return app.New(cfgPath, opts)
}

// closeApp gives the worker pool time to drain; it is not bound to the
// command context, which is already cancelled on SIGINT.
func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", err)
	}
}
