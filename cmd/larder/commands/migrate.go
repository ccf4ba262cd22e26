package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/larderapp/larder/pkg/stores"
)

func newMigrateCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Long: `Create the application tables, indexes and seed categories.

Migrations already applied are skipped, so running this twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), version, false, func(a *app, _ stores.Outcome) error {
				v, err := a.store.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]uint{"version": v})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			})
		},
	}

	return cmd
}
