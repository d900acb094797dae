package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/server"
	"github.com/opd-ai/go-strata/internal/storage"
)

// partialMaxAge is how old an abandoned partial download must be before it
// is removed at startup.
const partialMaxAge = 24 * time.Hour

func newServeCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a playback session behind the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, source)
		},
	}

	cmd.Flags().StringVar(&source, "load", "", "media URL to load at startup")

	return cmd
}

func runServe(ctx context.Context, source string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := storage.NewManager(&cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	files := storage.NewFileManager(cfg.Download.OutputDirectory, logger)
	if n, err := files.CleanupPartialDownloads(partialMaxAge); err != nil {
		logger.Warn("Failed to clean up partial downloads", "error", err)
	} else if n > 0 {
		logger.Info("Removed abandoned partial downloads", "count", n)
	}

	player, err := core.New(core.Options{
		Config:   cfg,
		Settings: db,
		History:  db,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	defer player.Destroy()

	srv := server.New(&cfg.Server, player, db, files, logger)

	if source != "" {
		if err := player.LoadURL(source); err != nil {
			return fmt.Errorf("failed to load %s: %w", source, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := files.CleanupPartialDownloads(partialMaxAge); err != nil {
					logger.Warn("Failed to clean up partial downloads", "error", err)
				}
			}
		}
	})

	logger.Info("Session ready",
		"version", version,
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	return g.Wait()
}
