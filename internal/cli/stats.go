package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/membrane-ai/membrane/internal/client"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show server statistics",
		RunE:  runStats,
	}
	cmd.Flags().BoolP("refresh", "r", false, "Re-reconcile counters against the backends first")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	c := client.New(getServerURL())

	refresh, _ := cmd.Flags().GetBool("refresh")
	if refresh {
		stats, err := c.RefreshStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh stats: %w", err)
		}
		printStatsMap("Statistics (refreshed)", stats)
		return nil
	}

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if orchestrator, ok := stats["orchestrator"].(map[string]any); ok {
		printStatsMap("Orchestrator", orchestrator)
	}
	if providers, ok := stats["providers"].(map[string]any); ok {
		printStatsMap("Providers", providers)
	}
	return nil
}
