package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bindery/internal/fileutil"
	"bindery/internal/logging"
	"bindery/internal/services"
	"bindery/internal/textutil"
)

// Transcoder is the narrow capability the orchestrator needs from the
// external encoder. Implementations must honor context cancellation by
// terminating the underlying process.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, outputPath string, onProgress func(float64)) error
	ExtractCover(ctx context.Context, sourcePath, coverPath string) error
	EmbedCover(ctx context.Context, inputPath, coverPath, outputPath string) error
}

// LibraryUpdater is the write-only persistence handle used once per job, at
// commit, to record the converted file's path and size.
type LibraryUpdater interface {
	UpdateMediaFile(ctx context.Context, audiobookID, path string, size int64) error
}

// Request describes one conversion submission.
type Request struct {
	AudiobookID string
	Title       string
	SourcePath  string
}

// Settings bounds the best-effort cover stages and places temp artifacts.
// When StagingDir is empty, temp files are written next to the source so the
// commit rename stays on one filesystem.
type Settings struct {
	CoverExtractTimeout time.Duration
	CoverEmbedTimeout   time.Duration
	StagingDir          string
}

// Orchestrator owns the job registry and directory lock set, and runs one
// background pipeline per submitted job. All registry mutations from
// submissions, pipelines, cancellations, and the reaper serialize on its
// mutex.
type Orchestrator struct {
	transcoder Transcoder
	library    LibraryUpdater
	publisher  Publisher
	logger     *slog.Logger
	settings   Settings

	mu    sync.Mutex
	jobs  map[string]*Job
	locks *directoryLocks
}

// NewOrchestrator constructs an orchestrator. The publisher and logger may be
// nil; no-op implementations are substituted.
func NewOrchestrator(transcoder Transcoder, library LibraryUpdater, publisher Publisher, logger *slog.Logger, settings Settings) (*Orchestrator, error) {
	if transcoder == nil {
		return nil, errors.New("conversion: transcoder required")
	}
	if library == nil {
		return nil, errors.New("conversion: library updater required")
	}
	if publisher == nil {
		publisher = NopPublisher()
	}
	if settings.CoverExtractTimeout <= 0 {
		settings.CoverExtractTimeout = 30 * time.Second
	}
	if settings.CoverEmbedTimeout <= 0 {
		settings.CoverEmbedTimeout = 60 * time.Second
	}
	return &Orchestrator{
		transcoder: transcoder,
		library:    library,
		publisher:  publisher,
		logger:     logging.NewComponentLogger(logger, "conversion"),
		settings:   settings,
		jobs:       make(map[string]*Job),
		locks:      newDirectoryLocks(),
	}, nil
}

// Submit validates the request synchronously, registers a job, locks its
// directory, and starts the pipeline in the background. It returns the job id
// without waiting on the pipeline. A rejected submission creates no job.
func (o *Orchestrator) Submit(req Request) (string, error) {
	sourcePath := strings.TrimSpace(req.SourcePath)
	if sourcePath == "" {
		return "", services.Wrap(services.ErrValidation, "conversion", "submit", "source path required", nil)
	}
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if ext == TargetExtension {
		return "", services.Wrap(services.ErrValidation, "conversion", "submit",
			fmt.Sprintf("%s is already in the target format", filepath.Base(sourcePath)), nil)
	}
	if !SupportedExtension(ext) {
		return "", services.Wrap(services.ErrValidation, "conversion", "submit",
			fmt.Sprintf("unsupported source format %q", ext), nil)
	}
	info, err := os.Stat(sourcePath)
	if err != nil || info.IsDir() {
		return "", services.Wrap(services.ErrValidation, "conversion", "submit",
			fmt.Sprintf("source file %s does not exist", sourcePath), err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = textutil.TitleFromPath(sourcePath)
	}

	id := uuid.NewString()
	short := id[:8]
	dir := filepath.Dir(sourcePath)
	tempDir := o.settings.StagingDir
	if tempDir == "" {
		tempDir = dir
	}
	safeBase := fileutil.SanitizeFileName(strings.TrimSuffix(filepath.Base(sourcePath), ext))
	if safeBase == "" {
		safeBase = "audio"
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:               id,
		AudiobookID:      req.AudiobookID,
		AudiobookTitle:   title,
		Status:           StatusStarting,
		Message:          "Preparing conversion",
		SourcePath:       sourcePath,
		SourceExtension:  ext,
		WorkingDirectory: dir,
		TempOutputPath:   filepath.Join(tempDir, fmt.Sprintf(".bindery-%s-%s%s.part", short, safeBase, TargetExtension)),
		TempCoverPath:    filepath.Join(tempDir, fmt.Sprintf(".bindery-%s-cover.jpg", short)),
		FinalPath:        strings.TrimSuffix(sourcePath, ext) + TargetExtension,
		StartedAt:        time.Now().UTC(),
		cancel:           cancel,
	}

	o.mu.Lock()
	o.jobs[id] = job
	snap := job.snapshot()
	o.mu.Unlock()
	o.locks.lock(dir)

	o.logger.Info("conversion submitted",
		logging.String("job_id", id),
		logging.String("audiobook_id", req.AudiobookID),
		logging.String("source", sourcePath),
	)
	o.publisher.Publish(eventFor(snap))

	go o.runPipeline(jobCtx, id)
	return id, nil
}

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(jobID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// ListActive returns snapshots of jobs still in starting or converting.
func (o *Orchestrator) ListActive() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	var active []Job
	for _, job := range o.jobs {
		if job.Active() {
			active = append(active, job.snapshot())
		}
	}
	return active
}

// ActiveForAudiobook returns the at-most-one active job for an audiobook.
func (o *Orchestrator) ActiveForAudiobook(audiobookID string) (Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, job := range o.jobs {
		if job.AudiobookID == audiobookID && job.Active() {
			return job.snapshot(), true
		}
	}
	return Job{}, false
}

// IsDirectoryLocked reports whether a conversion is in flight for dir. The
// external scanner polls this before treating the directory as stable.
func (o *Orchestrator) IsDirectoryLocked(dir string) bool {
	return o.locks.locked(dir)
}

// Cancel signals the job's process to terminate, transitions the job to
// cancelled, removes temp artifacts, and releases the directory lock. It does
// not wait for the process to actually exit; the pipeline goroutine observes
// the already-terminal job and does nothing further.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return services.Wrap(services.ErrNotFound, "conversion", "cancel",
			fmt.Sprintf("no conversion job %s", jobID), nil)
	}
	if job.Status.Terminal() {
		o.mu.Unlock()
		return services.Wrap(services.ErrValidation, "conversion", "cancel",
			"conversion already finished", nil)
	}
	cancel := job.cancel
	job.cancel = nil
	job.Status = StatusCancelled
	job.Message = "Conversion cancelled"
	job.CompletedAt = time.Now().UTC()
	snap := job.snapshot()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	removeQuietly(snap.TempOutputPath)
	removeQuietly(snap.TempCoverPath)
	o.locks.unlock(snap.WorkingDirectory)

	o.logger.Info("conversion cancelled", logging.String("job_id", jobID))
	o.publisher.Publish(eventFor(snap))
	return nil
}

// Sweep enforces registry hygiene: terminal jobs finished before
// now-retention are purged, and jobs still active past now-stuckAfter are
// force-failed with their process terminated. It returns the purged and
// failed counts. The reaper calls this on a timer.
func (o *Orchestrator) Sweep(now time.Time, retention, stuckAfter time.Duration) (purged, failed int) {
	var stuck []string

	o.mu.Lock()
	for id, job := range o.jobs {
		switch {
		case job.Status.Terminal():
			if !job.CompletedAt.IsZero() && now.Sub(job.CompletedAt) > retention {
				delete(o.jobs, id)
				purged++
			}
		case now.Sub(job.StartedAt) > stuckAfter:
			stuck = append(stuck, id)
		}
	}
	o.mu.Unlock()

	for _, id := range stuck {
		o.failJob(id, services.Wrap(services.ErrTimeout, "conversion", "reap",
			fmt.Sprintf("conversion made no progress for over %s", stuckAfter), nil))
		failed++
	}
	if purged > 0 || failed > 0 {
		o.logger.Info("registry sweep",
			logging.Int("purged", purged),
			logging.Int("force_failed", failed),
		)
	}
	return purged, failed
}

// Shutdown terminates every owned process and deletes temp artifacts. It is
// fire-and-forget teardown: pipelines are not awaited since all in-memory
// state is discarded with the process.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	type teardown struct {
		cancel     context.CancelFunc
		tempOutput string
		tempCover  string
	}
	var pending []teardown
	for _, job := range o.jobs {
		if !job.Active() {
			continue
		}
		pending = append(pending, teardown{
			cancel:     job.cancel,
			tempOutput: job.TempOutputPath,
			tempCover:  job.TempCoverPath,
		})
		job.cancel = nil
	}
	o.mu.Unlock()

	for _, td := range pending {
		if td.cancel != nil {
			td.cancel()
		}
		removeQuietly(td.tempOutput)
		removeQuietly(td.tempCover)
	}
	if len(pending) > 0 {
		o.logger.Info("terminated in-flight conversions on shutdown", logging.Int("count", len(pending)))
	}
}

// failJob is the single failure handler shared by the pipeline, the reaper,
// and timeout paths. It is a no-op when the job is already terminal, so a
// late process-exit error after cancellation changes nothing.
func (o *Orchestrator) failJob(jobID string, failure error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	cancel := job.cancel
	job.cancel = nil
	job.Status = StatusFailed
	job.Error = failure.Error()
	job.Message = "Conversion failed"
	if errors.Is(failure, services.ErrTimeout) {
		job.Message = "Conversion timed out"
	}
	job.CompletedAt = time.Now().UTC()
	snap := job.snapshot()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// A commit-stage file system failure keeps the encoded temp output: it
	// is the only complete artifact left for diagnosis.
	if !errors.Is(failure, services.ErrFileSystem) {
		removeQuietly(snap.TempOutputPath)
	}
	removeQuietly(snap.TempCoverPath)
	o.locks.unlock(snap.WorkingDirectory)

	o.logger.Error("conversion failed",
		logging.String("job_id", jobID),
		logging.String("audiobook_id", snap.AudiobookID),
		logging.Error(failure),
	)
	o.publisher.Publish(eventFor(snap))
}

func (o *Orchestrator) completeJob(jobID string) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	cancel := job.cancel
	job.cancel = nil
	job.Status = StatusCompleted
	job.Progress = 100
	job.Message = "Conversion complete"
	job.CompletedAt = time.Now().UTC()
	snap := job.snapshot()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.locks.unlock(snap.WorkingDirectory)

	o.logger.Info("conversion completed",
		logging.String("job_id", jobID),
		logging.String("audiobook_id", snap.AudiobookID),
		logging.String("final_path", snap.FinalPath),
	)
	o.publisher.Publish(eventFor(snap))
}

// setStage moves the job into converting (if still starting), raises progress
// to at least the stage floor, and publishes the new message. Terminal jobs
// are left untouched.
func (o *Orchestrator) setStage(jobID string, progress int, message string) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	if job.Status == StatusStarting {
		job.Status = StatusConverting
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	job.Message = message
	snap := job.snapshot()
	o.mu.Unlock()

	o.publisher.Publish(eventFor(snap))
}

// advanceProgress publishes only when the integer percentage increases,
// keeping progress monotonic and bounding event volume.
func (o *Orchestrator) advanceProgress(jobID string, progress int) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok || job.Status.Terminal() || progress <= job.Progress {
		o.mu.Unlock()
		return
	}
	job.Progress = progress
	snap := job.snapshot()
	o.mu.Unlock()

	o.publisher.Publish(eventFor(snap))
}

func (o *Orchestrator) jobTerminal(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	return !ok || job.Status.Terminal()
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
