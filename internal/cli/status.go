package cli

import (
	"github.com/spf13/cobra"

	"github.com/membrane-ai/membrane/internal/client"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(getServerURL())
			if err := c.Health(cmd.Context()); err != nil {
				printFail("Server unreachable: " + err.Error())
				return err
			}
			printOK("Server healthy at " + getServerURL())
			return nil
		},
	}
}
