package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/stores"
)

func newInitCommand(version string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Open the database and report how it was reached",
		Long: `Open the database the way an application would at startup.

With a remote URL and auth token configured the embedded replica is tried
first, rotating between URL schemes for a few rounds. If every round fails,
or no remote is configured, the same file is opened as a local database.`,
		Example: `  # Local database in the default data directory
  larder init

  # Replica, with credentials from the environment
  LARDER_DATABASE_URL=libsql://db.example.turso.io LARDER_AUTH_TOKEN=... larder init

  # Create the schema as well
  larder init --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), version, migrate, func(a *app, outcome stores.Outcome) error {
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), protocol.NewInitResult(outcome))
				}
				fmt.Fprintln(cmd.OutOrStdout(), outcome.String())
				if outcome.SyncErr != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "initial sync failed: %v\n", outcome.SyncErr)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations after opening")

	return cmd
}
