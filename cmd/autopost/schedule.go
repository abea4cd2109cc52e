package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autopost/internal/app"
)

func newScheduleCmd() *cobra.Command {
	sch := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule posts",
	}
	var repeat bool
	add := &cobra.Command{
		Use:   "add <account> <template> <day> <HH:MM>",
		Short: "Queue a post for the next matching weekday and time",
		Long: `Queues one post per account platform at the next <day> <HH:MM> in the
account time zone. With --repeat the slot is also saved to the account
file as a weekly schedule for the planner.`,
		Example: `  autopost schedule add bread weekly-tip mon 09:00
  autopost schedule add "Daily Bread" recipe friday 17:30 --repeat`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if err := a.Open(cmd.Context()); err != nil {
				return err
			}
			posts, err := a.SchedulePost(cmd.Context(), args[0], args[1], args[2], args[3], repeat)
			for _, p := range posts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %s  %s\n", p.ID, p.Platform, p.ScheduledAt.Format("Mon 2006-01-02 15:04 MST"), p.Template)
			}
			return err
		},
	}
	add.Flags().BoolVar(&repeat, "repeat", false, "also save as a weekly schedule")
	sch.AddCommand(add)
	return sch
}
