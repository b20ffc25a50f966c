package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the hub binary.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Multi-tenant MCP gateway for external service integrations",
	Long: `mcphub exposes external services (Slack, Teamwork, Miro, Figma,
Telegram, Binance, and a built-in memory store) as MCP tools behind a
single JSON-RPC endpoint.

It runs its own OAuth 2.0 authorization server so MCP clients can
discover it, register dynamically, and obtain tokens via the PKCE
authorization-code flow; users connect their provider accounts once and
every MCP client they authorize can then act through those connections.`,
	SilenceUsage: true,
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcphub version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
