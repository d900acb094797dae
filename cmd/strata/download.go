package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/downloader"
	"github.com/opd-ai/go-strata/internal/events"
	"github.com/opd-ai/go-strata/internal/state"
	"github.com/opd-ai/go-strata/internal/storage"
)

func newDownloadCmd() *cobra.Command {
	var (
		hls      bool
		format   string
		filename string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "download URL",
		Short: "Save a media URL to the download directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Download.OutputDirectory = output
				if err := cfg.CreateDirectories(); err != nil {
					return err
				}
			}

			db, err := storage.NewManager(&cfg.Storage, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			player, err := core.New(core.Options{
				Config:  cfg,
				History: db,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create player: %w", err)
			}
			defer player.Destroy()

			src := state.Source{URL: args[0]}
			if hls {
				src.Type = state.SourceHLS
			}
			if err := player.Load(src, core.LoadOptions{}); err != nil {
				return err
			}

			bar := newTerminalProgress(cmd.ErrOrStderr())
			defer player.Store().Subscribe(bar.observe)()
			defer player.Bus().Subscribe(events.ChannelOpenURL, func(payload any) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\nOpen the source directly: %v\n", payload)
			})()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := player.Download(ctx, core.DownloadOptions{Filename: filename, Format: format})
			bar.finish()
			if err != nil {
				return err
			}

			files := storage.NewFileManager(cfg.Download.OutputDirectory, logger)
			sum, err := files.CalculateChecksum(res.Path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Saved %s (%s, %s)\n", res.Path, res.MimeType, humanize.Bytes(uint64(res.Bytes)))
			if res.Segments > 0 {
				fmt.Fprintf(out, "Segments: %d\n", res.Segments)
			}
			fmt.Fprintf(out, "SHA-256:  %s\n", sum)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hls, "hls", false, "treat URL as an HLS playlist regardless of its extension")
	cmd.Flags().StringVarP(&format, "format", "f", "", "container for HLS downloads (mp4, mkv, ts)")
	cmd.Flags().StringVarP(&filename, "name", "n", "", "file name to save as")
	cmd.Flags().StringVarP(&output, "out", "o", "", "output directory (overrides download.output_directory)")

	return cmd
}

// terminalProgress renders download notifications as a progress bar.
type terminalProgress struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	message string
	done    bool
}

func newTerminalProgress(w io.Writer) *terminalProgress {
	return &terminalProgress{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Preparing download"),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// observe is a store listener picking out the download notification.
func (t *terminalProgress) observe(next, _ state.State) {
	for _, note := range next.Notifications {
		if !strings.HasPrefix(note.ID, downloader.NotificationIDPrefix) || note.Type != state.NotifyLoading {
			continue
		}

		t.mu.Lock()
		if !t.done {
			if note.Message != t.message {
				t.message = note.Message
				t.bar.Describe(note.Message)
			}
			if note.Progress != nil {
				t.bar.Set(int(*note.Progress))
			}
		}
		t.mu.Unlock()
	}
}

func (t *terminalProgress) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.bar.Finish()
}
