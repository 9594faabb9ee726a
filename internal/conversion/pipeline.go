package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"bindery/internal/fileutil"
	"bindery/internal/logging"
	"bindery/internal/services"
)

// Progress checkpoints per stage. The encode stage owns the [10,90] band;
// the stages around it take the remainder.
const (
	progressExtractCover = 5
	progressEncodeFloor  = 10
	progressEncodeCeil   = 90
	progressVerify       = 92
	progressEmbedCover   = 95
	progressCommit       = 98
)

// runPipeline executes the stages for one job sequentially: extract-cover
// (best effort) → encode → verify → embed-cover (best effort) → commit.
// Fatal stage errors route through the shared failure handler; if the job
// was cancelled underneath us, every late observation is a no-op.
func (o *Orchestrator) runPipeline(ctx context.Context, jobID string) {
	job, ok := o.Get(jobID)
	if !ok {
		return
	}
	logger := o.logger.With(
		logging.String("job_id", jobID),
		logging.String("audiobook_id", job.AudiobookID),
	)

	coverReady := false
	if CoverExtension(job.SourceExtension) {
		o.setStage(jobID, progressExtractCover, "Extracting cover art")
		coverCtx, cancel := context.WithTimeout(ctx, o.settings.CoverExtractTimeout)
		err := o.transcoder.ExtractCover(coverCtx, job.SourcePath, job.TempCoverPath)
		cancel()
		if err != nil {
			removeQuietly(job.TempCoverPath)
			logger.Debug("cover extraction skipped", logging.Error(err))
		} else {
			coverReady = true
		}
	}

	o.setStage(jobID, progressEncodeFloor, "Converting audio")
	encodeErr := o.transcoder.Transcode(ctx, job.SourcePath, job.TempOutputPath, func(fraction float64) {
		band := float64(progressEncodeCeil - progressEncodeFloor)
		o.advanceProgress(jobID, progressEncodeFloor+int(fraction*band))
	})
	if encodeErr != nil {
		if errors.Is(encodeErr, context.Canceled) || o.jobTerminal(jobID) {
			return
		}
		o.failJob(jobID, services.Wrap(services.ErrExternalTool, "conversion", "encode",
			"audio conversion failed", encodeErr))
		return
	}

	o.setStage(jobID, progressVerify, "Verifying converted file")
	info, err := os.Stat(job.TempOutputPath)
	if err != nil || info.Size() == 0 {
		if o.jobTerminal(jobID) {
			return
		}
		o.failJob(jobID, services.Wrap(services.ErrExternalTool, "conversion", "verify",
			"encoder exited cleanly but produced no output", err))
		return
	}

	if coverReady {
		o.setStage(jobID, progressEmbedCover, "Embedding cover art")
		o.embedCover(ctx, job, logger)
	}
	removeQuietly(job.TempCoverPath)

	o.setStage(jobID, progressCommit, "Moving converted file into place")
	if err := o.commit(ctx, job); err != nil {
		if o.jobTerminal(jobID) {
			return
		}
		o.failJob(jobID, err)
		return
	}

	o.completeJob(jobID)
}

// embedCover attaches the extracted art to the encoded output. Failures are
// absorbed: the conversion still succeeds without art.
func (o *Orchestrator) embedCover(ctx context.Context, job Job, logger *slog.Logger) {
	embedPath := job.TempOutputPath + ".cover"
	embedCtx, cancel := context.WithTimeout(ctx, o.settings.CoverEmbedTimeout)
	err := o.transcoder.EmbedCover(embedCtx, job.TempOutputPath, job.TempCoverPath, embedPath)
	cancel()
	if err != nil {
		removeQuietly(embedPath)
		logger.Debug("cover embedding skipped", logging.Error(err))
		return
	}
	if err := os.Rename(embedPath, job.TempOutputPath); err != nil {
		removeQuietly(embedPath)
		logger.Debug("cover embedding skipped", logging.Error(err))
	}
}

// commit atomically renames the temp output to the final path, deletes the
// original source, and records the new path and size through the persistence
// collaborator. Any failure here is a file system error, which deliberately
// leaves the temp output in place when it still exists.
func (o *Orchestrator) commit(ctx context.Context, job Job) error {
	if err := moveFile(job.TempOutputPath, job.FinalPath); err != nil {
		return services.Wrap(services.ErrFileSystem, "conversion", "commit",
			fmt.Sprintf("move converted file to %s", filepath.Base(job.FinalPath)), err)
	}
	if job.SourcePath != job.FinalPath {
		if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrFileSystem, "conversion", "commit",
				"remove original source file", err)
		}
	}
	info, err := os.Stat(job.FinalPath)
	if err != nil {
		return services.Wrap(services.ErrFileSystem, "conversion", "commit",
			"stat converted file", err)
	}
	if err := o.library.UpdateMediaFile(ctx, job.AudiobookID, job.FinalPath, info.Size()); err != nil {
		return services.Wrap(services.ErrFileSystem, "conversion", "commit",
			"persist converted file path", err)
	}
	return nil
}

// moveFile renames src to dst, falling back to a copy when staging and
// library live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := fileutil.CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
