// Package cli implements the membrane command line interface over the HTTP
// client.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var flagServerURL string

func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "membrane",
		Short: "Unified memory layer over vector backends",
		Long: `Membrane - unified memory layer over vector backends.

Store and retrieve semantically-indexed memories through a running
membrane server, and inspect its statistics and record coverage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "server URL (default http://localhost:8430)")

	rootCmd.AddCommand(newVersionCmd(version))
	rootCmd.AddCommand(newStatusCmd())

	rootCmd.AddCommand(newStoreCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newAuditCmd())

	return rootCmd
}

func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

func getServerURL() string {
	if flagServerURL != "" {
		return flagServerURL
	}
	if v := os.Getenv("MEMBRANE_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8430"
}
