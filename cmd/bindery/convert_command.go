package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"bindery/internal/conversion"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/services/ffmpeg"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var title string
	var audiobookID string

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a single audiobook file to .m4b",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			sourcePath, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := library.Open(cfg.Paths.DatabasePath)
			if err != nil {
				return fmt.Errorf("open library store: %w", err)
			}
			defer store.Close()

			transcoder, err := ffmpeg.New(cfg.FFmpeg.Binary, ffmpeg.EncodeSettings{
				Bitrate:    cfg.FFmpeg.Bitrate,
				SampleRate: cfg.FFmpeg.SampleRate,
				Channels:   cfg.FFmpeg.Channels,
			})
			if err != nil {
				return fmt.Errorf("init transcoder: %w", err)
			}

			logger := logging.NewNop()
			orch, err := conversion.NewOrchestrator(transcoder, store, nil, logger, conversion.Settings{
				CoverExtractTimeout: time.Duration(cfg.FFmpeg.CoverExtractTimeout) * time.Second,
				CoverEmbedTimeout:   time.Duration(cfg.FFmpeg.CoverEmbedTimeout) * time.Second,
				StagingDir:          cfg.Paths.StagingDir,
			})
			if err != nil {
				return fmt.Errorf("init orchestrator: %w", err)
			}
			defer orch.Shutdown()

			if audiobookID == "" {
				audiobookID = uuid.NewString()
			}
			jobID, err := orch.Submit(conversion.Request{
				AudiobookID: audiobookID,
				Title:       title,
				SourcePath:  sourcePath,
			})
			if err != nil {
				return err
			}

			interactive := isatty.IsTerminal(os.Stdout.Fd())
			return watchJob(signalCtx, cmd, orch, jobID, interactive)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Audiobook title (derived from the filename when omitted)")
	cmd.Flags().StringVar(&audiobookID, "id", "", "Library audiobook id to attach the result to")
	return cmd
}

func watchJob(ctx context.Context, cmd *cobra.Command, orch *conversion.Orchestrator, jobID string, interactive bool) error {
	lastProgress := -1
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = orch.Cancel(jobID)
			if interactive {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "conversion cancelled")
			return nil
		case <-ticker.C:
		}

		job, ok := orch.Get(jobID)
		if !ok {
			return fmt.Errorf("conversion job %s disappeared", jobID)
		}

		if job.Progress != lastProgress {
			lastProgress = job.Progress
			if interactive {
				fmt.Fprintf(cmd.OutOrStdout(), "\r%-40s %3d%%", job.Message, job.Progress)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d%%)\n", job.Message, job.Progress)
			}
		}

		if !job.Status.Terminal() {
			continue
		}
		if interactive {
			fmt.Fprintln(cmd.OutOrStdout())
		}

		switch job.Status {
		case conversion.StatusCompleted:
			fmt.Fprintf(cmd.OutOrStdout(), "converted to %s\n", job.FinalPath)
			return nil
		case conversion.StatusCancelled:
			fmt.Fprintln(cmd.OutOrStdout(), "conversion cancelled")
			return nil
		default:
			return fmt.Errorf("conversion failed: %s", job.Error)
		}
	}
}
