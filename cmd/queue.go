package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/convoy-dl/convoy/output"
	"github.com/convoy-dl/convoy/queue"
	"github.com/convoy-dl/convoy/utils"
)

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit pending archive downloads",
	}
	queueCmd.AddCommand(newQueueListCmd(), newQueueRemoveCmd())
	return queueCmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending archive downloads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			cfg := loadConfig(cmd)
			records := queue.Load(cfg.QueueFile).Records()
			if len(records) == 0 {
				output.PrintInfo("No pending downloads")
				return
			}
			output.PrintHeader(fmt.Sprintf("Pending downloads (%d)", len(records)))
			table := output.NewTable([]string{"Version", "Variant", "File", "Size", "Queued"})
			for _, rec := range records {
				table.Row(rec.Version, rec.Variant, rec.FileName,
					humanize.IBytes(uint64(rec.Size)), humanize.Time(time.Unix(rec.CreatedAt, 0)))
			}
			table.Print()
		},
	}
}

func newQueueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [version] [variant]",
		Short: "Drop a pending download from the queue",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			cfg := loadConfig(cmd)
			q := queue.Load(cfg.QueueFile)
			if _, ok := q.Find(args[0], args[1]); !ok {
				output.PrintWarning(fmt.Sprintf("No pending download for %s %s", args[0], args[1]))
				return
			}
			if err := q.Remove(args[0], args[1]); err != nil {
				output.PrintError(fmt.Sprintf("Failed to update queue: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %s %s from the queue", args[0], args[1]))
		},
	}
}
