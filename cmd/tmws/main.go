// Command tmws runs the TMWS access-control decision engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tmws",
	Short: "TMWS is an access-control decision engine for multi-agent platforms",
	Long: `TMWS evaluates access requests from AI agents against composed RBAC and
ABAC policy engines and serves the results over an HTTP API with a full
audit trail, approval workflow, and abuse detection.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
