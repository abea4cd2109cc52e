package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/queue"
)

func newQueueCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the post queue",
	}
	q.AddCommand(newQueueListCmd())
	q.AddCommand(newQueueAttemptsCmd())
	return q
}

func newQueueListCmd() *cobra.Command {
	var (
		accountRef string
		platform   string
		statuses   []string
		limit      int
	)
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List queued posts in due order",
		Example: `  autopost queue list --status pending,failed --account bread`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if err := a.Open(cmd.Context()); err != nil {
				return err
			}
			f := queue.Filter{Platform: strings.ToLower(platform), Limit: limit}
			if accountRef != "" {
				ac, err := a.Accounts().Resolve(accountRef)
				if err != nil {
					return err
				}
				f.AccountID = ac.ID
			}
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, queue.Status(strings.ToLower(strings.TrimSpace(s))))
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACCOUNT\tPLATFORM\tTEMPLATE\tSCHEDULED\tSTATUS\tATTEMPTS\tDETAIL")
			for _, p := range a.Queue().List(f) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					p.ID, p.AccountID, p.Platform, p.Template,
					p.ScheduledAt.Local().Format("2006-01-02 15:04"), p.Status, p.Attempts, postDetail(p))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			st := a.Queue().Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "\npending %d, in flight %d, posted %d, failed %d\n", st.Pending, st.InFlight, st.Posted, st.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountRef, "account", "", "only this account (id or name)")
	cmd.Flags().StringVar(&platform, "platform", "", "only this platform")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to show (pending,in_flight,posted,failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows; 0 means all")
	return cmd
}

func postDetail(p queue.Post) string {
	switch {
	case p.URL != "":
		return p.URL
	case p.LastError != "":
		return fmt.Sprintf("%s: %s", p.ErrorKind, p.LastError)
	}
	return ""
}

func newQueueAttemptsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts [post-id]",
		Short: "Show the attempt log, for one post or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			attempts, err := a.Queue().Attempts(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tPOST\tACCOUNT\tPLATFORM\t#\tOUTCOME\tTOOK\tERROR")
			for _, at := range attempts {
				errText := at.Error
				if at.ErrorKind != "" {
					errText = at.ErrorKind + ": " + errText
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					at.At.Local().Format("2006-01-02 15:04:05"), at.PostID, at.AccountID, at.Platform,
					at.Number, at.Outcome, (time.Duration(at.DurationMS) * time.Millisecond).String(), errText)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "newest entries to show; 0 means all")
	return cmd
}
