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

	"github.com/spf13/cobra"

	"bindery/internal/conversion"
	"bindery/internal/daemon"
	"bindery/internal/events"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/notifications"
	"bindery/internal/preflight"
	"bindery/internal/services/ffmpeg"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the conversion daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx)
		},
	}
}

func runDaemonProcess(cmdCtx context.Context, ctx *commandContext) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := filepath.Join(cfg.Paths.LogDir, "bindery.log")
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	results := preflight.RunAll(cfg)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
	if failed := preflight.FailedNames(results); len(failed) > 0 {
		return fmt.Errorf("preflight checks failed: %s", strings.Join(failed, ", "))
	}

	store, err := library.Open(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Error("open library store", logging.Error(err))
		return err
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

	publishers := []conversion.Publisher{conversion.NewLogPublisher(logger)}
	bus, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, logger)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	if bus != nil {
		defer bus.Close()
		publishers = append(publishers, bus)
	}
	notifier := notifications.NewService(cfg)
	publishers = append(publishers, notifications.NewEventNotifier(notifier, logger))

	orch, err := conversion.NewOrchestrator(transcoder, store, conversion.MultiPublisher(publishers...), logger, conversion.Settings{
		CoverExtractTimeout: time.Duration(cfg.FFmpeg.CoverExtractTimeout) * time.Second,
		CoverEmbedTimeout:   time.Duration(cfg.FFmpeg.CoverEmbedTimeout) * time.Second,
		StagingDir:          cfg.Paths.StagingDir,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	reaper := conversion.NewReaper(orch,
		time.Duration(cfg.Conversion.ReapInterval)*time.Second,
		time.Duration(cfg.Conversion.Retention)*time.Second,
		time.Duration(cfg.Conversion.StuckThreshold)*time.Second,
		logger,
	)

	d, err := daemon.New(cfg, store, logger, orch, reaper)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Fprintf(os.Stdout, "bindery daemon running, logs at %s\n", logPath)
	<-signalCtx.Done()
	logger.Info("bindery daemon shutting down")
	d.Stop()
	return nil
}
