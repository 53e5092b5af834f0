package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/membrane-ai/membrane/internal/client"
	"github.com/membrane-ai/membrane/internal/model"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store [CONTENT]",
		Short: "Store a new memory",
		Long: `Store a new memory.

Content can be provided as an argument or piped from stdin:
  membrane store "We deploy on Fridays after the smoke suite"
  cat notes.txt | membrane store --user alice`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStore,
	}
	cmd.Flags().Float64P("importance", "i", 0, "Importance score override (0.0-1.0)")
	cmd.Flags().StringP("user", "u", "", "User ID scoping")
	cmd.Flags().StringP("conversation", "c", "", "Conversation ID scoping")
	return cmd
}

func runStore(cmd *cobra.Command, args []string) error {
	var content string
	if len(args) > 0 {
		content = args[0]
	}

	if content == "" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			scanner := bufio.NewScanner(os.Stdin)
			var lines []string
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			content = strings.Join(lines, "\n")
		}
	}
	if content == "" {
		return fmt.Errorf("no content provided")
	}

	userID, _ := cmd.Flags().GetString("user")
	conversationID, _ := cmd.Flags().GetString("conversation")

	req := model.StoreRequest{
		Content:        content,
		UserID:         userID,
		ConversationID: conversationID,
	}
	if cmd.Flags().Changed("importance") {
		importance, _ := cmd.Flags().GetFloat64("importance")
		req.ImportanceScore = &importance
	}

	c := client.New(getServerURL())
	record, err := c.StoreMemory(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}

	printOK(fmt.Sprintf("Memory stored: %s (importance %.2f)", record.ID, record.ImportanceScore))
	return nil
}
