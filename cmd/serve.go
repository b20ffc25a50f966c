package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcphub/internal/app"
	"mcphub/internal/config"
)

// serveCmd starts the hub server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub server",
	Long: `Starts the MCP hub: the JSON-RPC tool endpoint, the OAuth
authorization server with discovery and dynamic client registration,
provider OAuth callbacks, and the account API.

Configuration comes from the environment (and an optional .env file):

  HUB_SECRET_KEY       signing and encryption key, at least 32 characters (required)
  HUB_LISTEN_ADDR      bind address (default :8080)
  HUB_PUBLIC_URL       externally visible base URL, used as the OAuth issuer
  HUB_DATABASE_PATH    sqlite database file (default hub.db)
  HUB_PROVIDERS_FILE   per-provider OAuth credentials yaml (default providers.yaml)
  HUB_ADMIN_EMAIL      with HUB_ADMIN_PASSWORD, bootstraps the first admin account

The providers file is watched and hot-reloaded on change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	application, err := app.NewApplication(cfg, rootCmd.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
