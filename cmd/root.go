package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/convoy-dl/convoy/config"
	"github.com/convoy-dl/convoy/manifest"
	"github.com/convoy-dl/convoy/output"
	s3dl "github.com/convoy-dl/convoy/sources/s3"
	"github.com/convoy-dl/convoy/transfer"
	"github.com/convoy-dl/convoy/utils"
)

var (
	outputPath    string
	manifestFile  string
	workers       int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	sha256Sum     string
	sha1Sum       string
	strictMode    bool
	highThread    bool
	debug         bool
	configDir     string
)

var ConvoyVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "convoy [url]",
	Short:   "Convoy is a concurrent, resumable file transfer engine",
	Version: ConvoyVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		loadConfig(cmd)
		if len(args) == 0 && manifestFile == "" {
			output.PrintError("No URL or manifest provided")
			os.Exit(1)
		}
		if manifestFile != "" && len(args) > 0 {
			output.PrintError("Cannot specify url argument and --manifest together, choose one")
			os.Exit(1)
		}
		var tasks []transfer.Task
		if len(args) > 0 {
			rawURL := args[0]
			if !strings.HasPrefix(rawURL, "s3://") {
				if _, err := u.Parse(rawURL); err != nil {
					output.PrintError("Invalid URL format")
					os.Exit(1)
				}
			}
			tasks = []transfer.Task{{URL: rawURL, Dest: singleDest(rawURL), SHA256: sha256Sum, SHA1: sha1Sum}}
		} else {
			var err error
			tasks, err = manifest.Read(manifestFile)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read manifest: %v", err))
				os.Exit(1)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tasks, err := expandFolders(ctx, tasks)
		if err != nil {
			output.PrintError(fmt.Sprintf("Failed to expand tasks: %v", err))
			os.Exit(1)
		}
		if len(tasks) == 0 {
			output.PrintWarning("Nothing to download")
			return
		}

		client := utils.NewClient(buildClientConfig())
		display := output.NewDisplay()
		for _, task := range tasks {
			display.Register(filepath.Base(task.Dest))
		}
		restore := redirectLogs()
		defer restore()
		display.Start()

		policy := transfer.BestEffort
		if strictMode {
			policy = transfer.Strict
		}
		result, err := transfer.PerformBatch(ctx, tasks, transfer.BatchOptions{
			Workers:    workers,
			Policy:     policy,
			Client:     client,
			OnProgress: display.BatchFunc(),
		})
		display.Stop()
		display.Summary()
		if err != nil {
			output.PrintError(fmt.Sprintf("Batch failed: %v", err))
			os.Exit(1)
		}
		if len(result.Failed) > 0 {
			for _, f := range result.Failed {
				output.PrintError(fmt.Sprintf("%s %s: %v", output.StyleSymbols["fail"], f.Dest, f.Err))
			}
			output.PrintError("Encountered failed operation(s)")
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies it beneath any flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(configDir)
	if err != nil {
		output.PrintError(fmt.Sprintf("Bad config file: %v", err))
		os.Exit(1)
	}
	flags := cmd.Flags()
	if !flags.Changed("workers") && cfg.Workers > 0 {
		workers = cfg.Workers
	}
	if !flags.Changed("timeout") && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	if !flags.Changed("keep-alive-timeout") && cfg.KeepAliveTimeout > 0 {
		kaTimeout = cfg.KeepAliveTimeout
	}
	if !flags.Changed("user-agent") && cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}
	if !flags.Changed("proxy") && cfg.Proxy != "" {
		proxyURL = cfg.Proxy
	}
	if !flags.Changed("strict") && cfg.StrictBatch {
		strictMode = true
	}
	if !flags.Changed("high-thread") && cfg.HighThreadMode {
		highThread = true
	}
	return cfg
}

func buildClientConfig() utils.HTTPClientConfig {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Pull auth out of the proxy URL if it was embedded there
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        timeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(headers),
		HighThreadMode: highThread,
	}
}

// redirectLogs sends zerolog output to the log file so the live display
// owns the terminal. The returned func restores nothing; it just closes
// the file once the display is done.
func redirectLogs() func() {
	f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return func() {}
	}
	utils.SetLogOutput(f)
	return func() { f.Close() }
}

func singleDest(rawURL string) string {
	if outputPath != "" {
		return outputPath
	}
	if strings.HasPrefix(rawURL, "s3://") {
		if _, key, err := s3dl.ParseURL(rawURL); err == nil {
			if key = strings.TrimSuffix(key, "/"); key != "" {
				return path.Base(key)
			}
		}
		return "convoy-download"
	}
	if parsed, err := u.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "convoy-download"
}

// expandFolders replaces any s3 folder task with one task per object under
// the prefix, preserving the relative layout beneath the task destination.
func expandFolders(ctx context.Context, tasks []transfer.Task) ([]transfer.Task, error) {
	var expanded []transfer.Task
	var client *awss3.Client
	for _, task := range tasks {
		if !strings.HasPrefix(task.URL, "s3://") {
			expanded = append(expanded, task)
			continue
		}
		if client == nil {
			c, err := s3dl.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("error setting up S3 client: %w", err)
			}
			client = c
		}
		if _, err := s3dl.ObjectSize(ctx, client, task.URL); err == nil {
			expanded = append(expanded, task)
			continue
		} else if !errors.Is(err, s3dl.ErrIsFolder) {
			return nil, fmt.Errorf("error probing %s: %w", task.URL, err)
		}
		bucket, prefix, err := s3dl.ParseURL(task.URL)
		if err != nil {
			return nil, err
		}
		objects, err := s3dl.ListFolder(ctx, client, task.URL)
		if err != nil {
			return nil, fmt.Errorf("error listing %s: %w", task.URL, err)
		}
		for _, obj := range objects {
			rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
			expanded = append(expanded, transfer.Task{
				URL:  fmt.Sprintf("s3://%s/%s", bucket, obj.Key),
				Dest: filepath.Join(task.Dest, filepath.FromSlash(rel)),
			})
		}
	}
	return expanded, nil
}

func init() {
	rootCmd.AddCommand(newArchiveCmd(), newResumeCmd(), newQueueCmd(), newCleanCmd())

	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 30*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent ('randomize' picks a browser one)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&highThread, "high-thread", false, "Tune sockets for many concurrent connections")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory containing convoy.yaml")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	rootCmd.Flags().StringVarP(&manifestFile, "manifest", "l", "", "Path to YAML file listing URLs, destinations, and checksums")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of files to download in parallel")
	rootCmd.Flags().StringVar(&sha256Sum, "sha256", "", "Expected SHA-256 of the downloaded file")
	rootCmd.Flags().StringVar(&sha1Sum, "sha1", "", "Expected SHA-1 of the downloaded file")
	rootCmd.Flags().BoolVar(&strictMode, "strict", false, "Fail the whole batch when any file fails")
}
