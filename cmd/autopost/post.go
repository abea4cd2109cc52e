package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autopost/internal/app"
	"autopost/internal/content"
	"autopost/internal/dispatch"
)

func newPostCmd() *cobra.Command {
	post := &cobra.Command{
		Use:   "post",
		Short: "Publish posts on demand",
	}
	post.AddCommand(&cobra.Command{
		Use:   "now <account> <template>",
		Short: "Generate and publish to every account platform right away",
		Long: `Enqueues one post per platform of the account and dispatches it at once,
without jitter. Posting cadence still applies: a platform posted to too
recently is deferred, not skipped.`,
		Example: `  autopost post now "Daily Bread" weekly-tip`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			if err := a.Open(cmd.Context()); err != nil {
				return err
			}
			results, err := a.PostNow(cmd.Context(), args[0], args[1])
			out := cmd.OutOrStdout()
			for _, r := range results {
				switch r.Outcome {
				case dispatch.OutcomePosted:
					fmt.Fprintf(out, "%-10s posted %s\n", r.Platform, firstSet(r.Receipt.URL, r.Receipt.RemoteID))
				case dispatch.OutcomeDeferred, dispatch.OutcomeRequeued:
					fmt.Fprintf(out, "%-10s %s until %s (%s)\n", r.Platform, r.Outcome, r.Next.Format("2006-01-02 15:04"), r.Reason)
				default:
					fmt.Fprintf(out, "%-10s %s %s\n", r.Platform, r.Outcome, r.Reason)
				}
			}
			return err
		},
	})
	return post
}

func newTestCmd() *cobra.Command {
	test := &cobra.Command{
		Use:   "test",
		Short: "Dry runs that never publish",
	}
	var (
		generate bool
		archive  string
	)
	prompt := &cobra.Command{
		Use:   "prompt <template> <account>",
		Short: "Render a template prompt for an account",
		Long: `Prints the prompt a generation would send, including trend hints.
With --generate the configured content provider is called and the result
is printed; --archive also saves prompt and result under the given
directory. Nothing is queued or published.`,
		Example: `  autopost test prompt weekly-tip bread --generate`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			pv, err := a.TestPrompt(cmd.Context(), args[0], args[1], generate || archive != "")
			out := cmd.OutOrStdout()
			if pv.Template != nil {
				fmt.Fprintf(out, "template: %s (%s, format %s)\naccount:  %s\n", pv.Template.ID, pv.Template.Name, pv.Template.Format, pv.Account.Name)
				for _, h := range pv.Hints {
					fmt.Fprintf(out, "hint:     %s (score %.1f)\n", h.Keyword, h.Score)
				}
				fmt.Fprintf(out, "\n--- prompt ---\n%s\n", pv.Prompt)
			}
			if err != nil {
				return err
			}
			if pv.Content != nil {
				printContent(cmd, *pv.Content)
				if archive != "" {
					path, err := content.Archive(archive, pv.Account, pv.Prompt, *pv.Content)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "\narchived to %s\n", path)
				}
			}
			return nil
		},
	}
	prompt.Flags().BoolVar(&generate, "generate", false, "call the content provider")
	prompt.Flags().StringVar(&archive, "archive", "", "save prompt and output under this directory (implies --generate)")
	test.AddCommand(prompt)
	return test
}

func printContent(cmd *cobra.Command, c content.Content) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n--- output (%s, model %s) ---\n", c.Format, c.Model)
	if c.Title != "" {
		fmt.Fprintf(out, "title: %s\n", c.Title)
	}
	fmt.Fprintln(out, c.Body)
	if len(c.Tags) > 0 {
		fmt.Fprintf(out, "tags: %v\n", c.Tags)
	}
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
