// Command strata runs a headless playback session behind an HTTP/WebSocket
// bridge, or saves a single media URL from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opd-ai/go-strata/pkg/config"
)

var version = "dev"

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Media playback session orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newDownloadCmd())

	return root
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	if err := cfg.CreateDirectories(); err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
