package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convoy-dl/convoy/output"
	"github.com/convoy-dl/convoy/transfer"
	"github.com/convoy-dl/convoy/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [destination]",
		Short: "Remove partial transfer state for a destination",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			if err := transfer.Clean(args[0]); err != nil {
				output.PrintError(fmt.Sprintf("Failed to clean %s: %v", args[0], err))
				os.Exit(1)
			}
			output.PrintSuccess("Partial transfer state removed")
		},
	}
}
