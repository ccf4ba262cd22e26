package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dataDir    string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "larder",
		Short: "larder - local-first SQLite with an optional embedded replica",
		Long: `larder keeps an application's data in a private SQLite file and, when a
remote URL and auth token are configured, keeps that file in step with a
remote libSQL primary as an embedded replica.

If the remote cannot be reached the same file is opened as a plain local
database, so the application always has somewhere to read and write.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the database directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand(version))
	rootCmd.AddCommand(newExecCommand(version))
	rootCmd.AddCommand(newBatchCommand(version))
	rootCmd.AddCommand(newSyncCommand(version))
	rootCmd.AddCommand(newMigrateCommand(version))
	rootCmd.AddCommand(newServeCommand(version))

	return rootCmd
}
