package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convoy-dl/convoy/output"
	"github.com/convoy-dl/convoy/queue"
	"github.com/convoy-dl/convoy/utils"
)

var (
	archiveVersion string
	archiveVariant string
	archiveName    string
	archiveSize    int64
	archiveSHA     string
	installDir     string
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive [url]",
		Short: "Download a versioned archive through the resumable queue",
		Long: `Download a large archive in segments with on-disk resume state. The
download is tracked in the pending queue until it finishes, so an
interrupted transfer can be picked up again with 'convoy resume'.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(debug)
			cfg := loadConfig(cmd)
			rawURL := args[0]
			if archiveVersion == "" {
				output.PrintError("--version is required")
				os.Exit(1)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			client := utils.NewClient(buildClientConfig())

			name := archiveName
			size := archiveSize
			if name == "" || size <= 0 {
				probedSize, probedName, err := utils.RemoteFileInfo(ctx, client, rawURL)
				if err != nil {
					output.PrintError(fmt.Sprintf("Failed to probe %s: %v", rawURL, err))
					os.Exit(1)
				}
				if size <= 0 {
					size = probedSize
				}
				if name == "" {
					name = probedName
				}
			}
			if name == "" {
				if parsed, err := u.Parse(rawURL); err == nil {
					name = path.Base(parsed.Path)
				}
			}
			if name == "" || name == "/" || name == "." {
				output.PrintError("Could not infer a file name, pass --name")
				os.Exit(1)
			}

			rec := queue.Record{
				Version:    archiveVersion,
				Variant:    archiveVariant,
				URL:        rawURL,
				FileName:   name,
				Size:       size,
				Checksum:   archiveSHA,
				InstallDir: installDir,
			}
			q := queue.Load(cfg.QueueFile)
			display := output.NewDisplay()
			display.Register(name)
			restore := redirectLogs()
			defer restore()
			display.Start()
			runner := &queue.Runner{Queue: q, Client: client, OnProgress: display.TransferFunc()}
			err := runner.Fetch(ctx, rec)
			display.Stop()
			display.Summary()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					output.PrintWarning("Paused; run 'convoy resume' to continue")
				} else {
					output.PrintError(fmt.Sprintf("Archive download failed: %v", err))
				}
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("%s %s ready in %s", archiveVersion, archiveVariant, installDir))
		},
	}
	cmd.Flags().StringVar(&archiveVersion, "version", "", "Release version the archive belongs to")
	cmd.Flags().StringVar(&archiveVariant, "variant", "full", "Archive variant (eg. full, minimal)")
	cmd.Flags().StringVar(&archiveName, "name", "", "File name to save as (probed from the server if omitted)")
	cmd.Flags().Int64Var(&archiveSize, "size", 0, "Expected size in bytes (probed from the server if omitted)")
	cmd.Flags().StringVar(&archiveSHA, "sha256", "", "Expected SHA-256 of the archive")
	cmd.Flags().StringVarP(&installDir, "install-dir", "o", ".", "Directory the archive lands in")
	return cmd
}
