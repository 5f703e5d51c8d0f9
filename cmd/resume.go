package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoy-dl/convoy/output"
	"github.com/convoy-dl/convoy/queue"
	"github.com/convoy-dl/convoy/utils"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume all pending archive downloads",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			cfg := loadConfig(cmd)
			q := queue.Load(cfg.QueueFile)
			if q.Len() == 0 {
				output.PrintInfo("No pending downloads")
				return
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			client := utils.NewClient(buildClientConfig())
			display := output.NewDisplay()
			for _, rec := range q.Records() {
				display.Register(rec.FileName)
			}
			restore := redirectLogs()
			defer restore()
			display.Start()
			runner := &queue.Runner{Queue: q, Client: client, OnProgress: display.TransferFunc()}
			done := runner.ResumeAll(ctx)
			display.Stop()
			display.Summary()

			if remaining := q.Len(); remaining > 0 {
				output.PrintWarning(fmt.Sprintf("%d download(s) still pending, run 'convoy resume' to retry", remaining))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Resumed %d download(s)", len(done)))
		},
	}
}
