package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "subbot-linker",
	Short: "Subbot linking session manager",
	Long: `subbot-linker links subbot identities to a parent account by QR scan
or pairing code and tracks each linking session until it connects, fails
or expires.

Configuration is read from the environment (DATABASE_URL, REDIS_URL,
API_TOKEN, SESSION_TTL_SECONDS, ...).

Commands:
  serve    Run the HTTP API, the registry and the expiration sweeper
  migrate  Apply the database schema and exit
  watch    Print relayed events of one session from redis`,
	// serve is the default so a bare binary keeps running as a server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
