package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autopost/internal/account"
	"autopost/internal/app"
)

func newAccountCmd() *cobra.Command {
	acct := &cobra.Command{
		Use:   "account",
		Short: "Manage account files",
	}
	acct.AddCommand(newAccountNewCmd())
	acct.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts with status and platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tTIMEZONE\tPLATFORMS\tSCHEDULES")
			for _, ac := range a.Accounts().List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
					ac.ID, ac.Name, ac.Status, ac.Location(), strings.Join(ac.Platforms, ","), len(ac.Schedules))
			}
			return tw.Flush()
		},
	})
	acct.AddCommand(newAccountStatusCmd("pause", "Stop dispatching for an account", account.StatusPaused))
	acct.AddCommand(newAccountStatusCmd("resume", "Resume dispatching for an account", account.StatusActive))
	acct.AddCommand(newAccountStatusCmd("disable", "Disable an account until resumed", account.StatusDisabled))
	return acct
}

func newAccountStatusCmd(use, short string, status account.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Long: short + `. The account file is rewritten; a running scheduler with
accounts.watch enabled picks the change up on its next tick.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			ac, err := a.Accounts().SetStatus(args[0], status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", ac.Name, ac.Status)
			return nil
		},
	}
}

func newAccountNewCmd() *cobra.Command {
	var f account.File
	cmd := &cobra.Command{
		Use:   "new <id>",
		Short: "Create an account file",
		Long: `Writes <accounts.dir>/<id>.toml. Credentials are not prompted for; add a
[credentials.<platform>] table to the file, preferably with ${ENV}
references.`,
		Example: `  autopost account new bread --name "Daily Bread" --site https://bread.example \
    --platforms twitter,blog --keywords sourdough,baking --tone warm --hashtags "#bread"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(app.Options{}, true)
			if err != nil {
				return err
			}
			defer closeApp(a)
			f.ID = args[0]
			ac, err := a.Accounts().Create(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", ac.ID, ac.Path)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Name, "name", "", "display name (defaults to the id)")
	fl.StringVar(&f.Site, "site", "", "site URL")
	fl.StringVar(&f.Tone, "tone", "", "writing tone passed to templates")
	fl.StringVar(&f.Timezone, "timezone", "", "IANA time zone for schedules (default UTC)")
	fl.StringVar(&f.DefaultTemplate, "template", "", "default template id")
	fl.StringSliceVar(&f.Platforms, "platforms", nil, "platforms to post to (twitter,facebook,instagram,pinterest,telegram,blog)")
	fl.StringSliceVar(&f.Keywords, "keywords", nil, "topic keywords")
	fl.StringSliceVar(&f.Hashtags, "hashtags", nil, "hashtags appended to captions")
	fl.StringToStringVar(&f.Handles, "handles", nil, "social handles, e.g. twitter=@bread")
	_ = cmd.MarkFlagRequired("platforms")
	return cmd
}
