package conversion

import (
	"context"
	"time"
)

// Status represents the lifecycle of a conversion job.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusConverting Status = "converting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one conversion request's full record. The orchestrator owns every
// Job; callers only ever receive copies with the process handle stripped.
type Job struct {
	ID             string
	AudiobookID    string
	AudiobookTitle string

	Status   Status
	Progress int
	Message  string
	Error    string

	SourcePath       string
	SourceExtension  string
	WorkingDirectory string
	TempOutputPath   string
	TempCoverPath    string
	FinalPath        string

	StartedAt   time.Time
	CompletedAt time.Time

	// cancel terminates the job's owned external process. It is non-nil
	// exactly while Status is starting or converting.
	cancel context.CancelFunc
}

// Active reports whether the job still owns a running pipeline.
func (j Job) Active() bool {
	return j.Status == StatusStarting || j.Status == StatusConverting
}

// snapshot returns a copy safe to hand outside the orchestrator.
func (j *Job) snapshot() Job {
	cp := *j
	cp.cancel = nil
	return cp
}
