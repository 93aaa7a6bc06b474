package cmd

import (
	"context"
	"os"

	"github.com/nfrund/orgchat/internal/app"
	"github.com/nfrund/orgchat/internal/config"
	"github.com/nfrund/orgchat/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "orgchat administration tool",
	Long: `chatctl manages an orgchat deployment from the command line.

Available commands:
  migrate    Create the schema for the configured database
  seed       Load organizations, users and groups from a fixture file
  token      Mint a bearer token for an existing user
  version    Print the version number

Configuration is read from the environment and an optional .env file,
exactly like the server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.New()
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore loads the configuration and connects to the configured backend.
func openStore(ctx context.Context) (*config.Config, app.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
