package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/larderapp/larder/pkg/ipc/protocol"
	"github.com/larderapp/larder/pkg/stores"
)

func newSyncCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull remote changes into the embedded replica",
		Long: `Open the replica and run one sync exchange with the primary.

Fails on a local database, including one reached by fallback.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), version, false, func(a *app, _ stores.Outcome) error {
				frames, err := a.store.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), protocol.SyncResult{FramesSynced: frames})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d frames\n", frames)
				return nil
			})
		},
	}

	return cmd
}
