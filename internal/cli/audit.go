package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/membrane-ai/membrane/internal/client"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report record and embedding coverage",
		RunE:  runAudit,
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	c := client.New(getServerURL())
	report, err := c.VisibilityAudit(cmd.Context())
	if err != nil {
		return fmt.Errorf("visibility audit: %w", err)
	}

	if report.Error != "" {
		printFail("Audit failed: " + report.Error)
		return nil
	}

	printOK(fmt.Sprintf("%d memories, %d with embeddings, %d without",
		report.TotalMemories, report.WithEmbeddings, report.WithoutEmbeddings))
	for _, sample := range report.MissingSamples {
		printWarn(fmt.Sprintf("missing embedding: %s %q", sample.ID, sample.Preview))
	}
	return nil
}
