package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"bindery/internal/config"
	"bindery/internal/conversion"
	"bindery/internal/library"
	"bindery/internal/logging"
	"bindery/internal/notifications"
)

// Daemon coordinates the conversion orchestrator and reaper, and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *library.Store
	orchestrator *conversion.Orchestrator
	reaper       *conversion.Reaper
	logPath      string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	ActiveJobs    []conversion.Job
	LibraryDBPath string
	LockFilePath  string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *library.Store, logger *slog.Logger, orch *conversion.Orchestrator, reaper *conversion.Reaper) (*Daemon, error) {
	if cfg == nil || store == nil || orch == nil || reaper == nil {
		return nil, errors.New("daemon requires config, store, orchestrator, and reaper")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "binderyd.lock")
	return &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		store:        store,
		orchestrator: orch,
		reaper:       reaper,
		logPath:      filepath.Join(cfg.Paths.LogDir, "bindery.log"),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the reaper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bindery daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	go d.reaper.Run(d.ctx)

	d.running.Store(true)
	d.logger.Info("bindery daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop terminates in-flight conversions and releases the daemon lock. It
// does not wait for pipelines to unwind.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.orchestrator.Shutdown()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("bindery daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Submit starts a conversion for the given audiobook source file.
func (d *Daemon) Submit(req conversion.Request) (string, error) {
	return d.orchestrator.Submit(req)
}

// CancelConversion terminates a running conversion job.
func (d *Daemon) CancelConversion(jobID string) error {
	return d.orchestrator.Cancel(jobID)
}

// Job returns a snapshot of the named conversion job.
func (d *Daemon) Job(jobID string) (conversion.Job, bool) {
	return d.orchestrator.Get(jobID)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:       d.running.Load(),
		ActiveJobs:    d.orchestrator.ListActive(),
		LibraryDBPath: d.cfg.Paths.DatabasePath,
		LockFilePath:  d.lockPath,
	}
}
