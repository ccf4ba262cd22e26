package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/larderapp/larder/pkg/config"
	"github.com/larderapp/larder/pkg/ipc/server"
	"github.com/larderapp/larder/pkg/replication"
)

func newServeCommand(version string) *cobra.Command {
	var (
		autoInit bool
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer database commands over stdin/stdout",
		Long: `Run the JSON-lines command channel on stdin and stdout.

The host sends CMD lines (init, execute, batch, sync) and receives one DONE
or ERROR per command, plus EVENT lines for connection and sync activity.
While serving:
  - a background coordinator syncs the replica periodically and shortly
    after writes, when sync is enabled
  - the Prometheus endpoint is served, when metrics are enabled
  - edits to the config file reconnect the database with the new remote`,
		Example: `  # Open from config right away
  larder serve --config larder.yaml

  # Wait for the host to send init
  larder serve --auto-init=false`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			a, err := newApp(version)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if err := a.tel.StartMetricsServer(); err != nil {
				return err
			}

			if autoInit {
				if _, err := a.open(ctx, false); err != nil {
					return err
				}
			}

			var notifier server.WriteNotifier
			if a.cfg.Sync.Enabled {
				coord := replication.NewCoordinator(replication.SyncerFunc(a.store.Sync), replication.Config{
					Interval: a.cfg.Sync.Interval,
					Debounce: a.cfg.Sync.Debounce,
					Logger:   a.logger,
				})
				coord.Start(ctx)
				defer coord.Stop()
				notifier = coord
			}

			if watch && configPath != "" {
				w, err := config.Watch(ctx, configPath, a.logger, func(next *config.Config) {
					reconnect(ctx, a, next)
				})
				if err != nil {
					return err
				}
				defer w.Close()
			}

			srv := server.New(server.Config{
				Store:    a.store,
				Notifier: notifier,
				Events:   a.tel.Events,
				Version:  version,
				Logger:   a.logger,
			})
			return srv.Serve(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().BoolVar(&autoInit, "auto-init", true, "open the database from config before reading commands")
	cmd.Flags().BoolVar(&watch, "watch", true, "reconnect when the config file's remote settings change")

	return cmd
}

// reconnect re-initializes the Store when the remote target in a reloaded
// config differs from the active one. Other settings need a restart.
func reconnect(ctx context.Context, a *app, next *config.Config) {
	if next.RemoteTarget() == a.cfg.RemoteTarget() {
		a.logger.Debug().Msg("Config changed without remote changes, keeping connection")
		return
	}
	if !a.store.Initialized() {
		a.cfg.Remote = next.Remote
		return
	}

	outcome, err := a.store.Init(ctx, next.RemoteTarget())
	if err != nil {
		a.logger.Error().Err(err).Msg("Reconnect failed, keeping previous database")
		return
	}
	a.cfg.Remote = next.Remote
	a.logger.Info().Str("outcome", outcome.String()).Msg("Reconnected after config change")
}
