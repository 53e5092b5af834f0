package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/membrane-ai/membrane/internal/client"
	"github.com/membrane-ai/membrane/internal/model"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [TEXT]",
		Short: "Search stored memories",
		Long: `Search stored memories by semantic similarity.

With no TEXT the most recently created memories are returned:
  membrane query "postgres connection pooling"
  membrane query --limit 20`,
		Args: cobra.ArbitraryArgs,
		RunE: runQuery,
	}
	cmd.Flags().IntP("limit", "l", 10, "Maximum results")
	cmd.Flags().Float64P("min-similarity", "m", 0, "Minimum similarity threshold (0 = server default)")
	cmd.Flags().StringP("user", "u", "", "User ID scoping")
	cmd.Flags().StringP("conversation", "c", "", "Conversation ID scoping")
	cmd.Flags().StringSliceP("providers", "p", nil, "Explicit provider subset")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	minSim, _ := cmd.Flags().GetFloat64("min-similarity")
	userID, _ := cmd.Flags().GetString("user")
	conversationID, _ := cmd.Flags().GetString("conversation")
	providers, _ := cmd.Flags().GetStringSlice("providers")

	req := model.QueryRequest{
		Query:          strings.Join(args, " "),
		Limit:          limit,
		MinSimilarity:  minSim,
		UserID:         userID,
		ConversationID: conversationID,
		Providers:      providers,
	}

	c := client.New(getServerURL())
	resp, err := c.QueryMemories(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("query memories: %w", err)
	}

	printResponse(resp)
	return nil
}
