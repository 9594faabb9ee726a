package conversion

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bindery/internal/services"
)

func TestSubmitRejectsTargetFormat(t *testing.T) {
	orch, events := newTestOrchestrator(t, newFakeTranscoder(), &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "book.m4b")

	_, err := orch.Submit(Request{AudiobookID: "ab-1", SourcePath: source})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(orch.ListActive()) != 0 {
		t.Fatal("no job should be created on rejection")
	}
	if len(events.all()) != 0 {
		t.Fatal("no events should be published on rejection")
	}
}

func TestSubmitRejectsUnsupportedFormat(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeTranscoder(), &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "book.pdf")

	_, err := orch.Submit(Request{AudiobookID: "ab-1", SourcePath: source})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeTranscoder(), &fakeLibrary{})

	_, err := orch.Submit(Request{AudiobookID: "ab-1", SourcePath: filepath.Join(t.TempDir(), "missing.mp3")})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(orch.ListActive()) != 0 {
		t.Fatal("no job should be created on rejection")
	}
}

func TestSuccessfulConversion(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.fractions = []float64{0.25, 0.5, 1.0}
	library := &fakeLibrary{}
	orch, events := newTestOrchestrator(t, transcoder, library)

	dir := t.TempDir()
	source := writeSource(t, dir, "the_martian.mp3")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-1", Title: "The Martian", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}

	finalPath := filepath.Join(dir, "the_martian.m4b")
	if _, err := os.Stat(finalPath); err != nil {
		t.Fatalf("expected final file: %v", err)
	}
	if _, err := os.Stat(source); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected original source to be deleted")
	}
	if library.count() != 1 {
		t.Fatalf("expected exactly one commit update, got %d", library.count())
	}
	if orch.IsDirectoryLocked(dir) {
		t.Fatal("directory should be unlocked after completion")
	}

	published := events.all()
	if len(published) == 0 {
		t.Fatal("expected events")
	}
	if published[0].Status != StatusStarting {
		t.Fatalf("first event should be starting, got %s", published[0].Status)
	}
	last := published[len(published)-1]
	if last.Status != StatusCompleted || last.Progress != 100 {
		t.Fatalf("last event should be completed at 100, got %s/%d", last.Status, last.Progress)
	}
	prev := -1
	for _, event := range published {
		if event.Kind != EventKind {
			t.Fatalf("unexpected event kind %q", event.Kind)
		}
		if event.Progress < prev {
			t.Fatalf("progress regressed from %d to %d", prev, event.Progress)
		}
		prev = event.Progress
	}
}

func TestEncodeProgressStaysInBand(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.fractions = []float64{0.01, 0.5, 0.99, 1.0}
	orch, events := newTestOrchestrator(t, transcoder, &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "dune.ogg")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-2", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, orch, jobID)

	for _, event := range events.all() {
		if event.Status != StatusConverting {
			continue
		}
		if event.Progress > progressEncodeCeil && event.Message == "Converting audio" {
			t.Fatalf("encode progress %d escaped the band", event.Progress)
		}
	}
}

func TestCoverEmbedding(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.writeCover = true
	transcoder.writeEmbed = true
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})

	dir := t.TempDir()
	source := writeSource(t, dir, "hail_mary.mp3")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-3", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}

	data, err := os.ReadFile(job.FinalPath)
	if err != nil {
		t.Fatalf("read final: %v", err)
	}
	if string(data) != "m4b with cover" {
		t.Fatalf("expected embedded output to win, got %q", string(data))
	}
	if _, err := os.Stat(job.TempCoverPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temp cover should be removed")
	}
}

func TestCoverFailureIsAbsorbed(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.extractErr = errors.New("no art stream")
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "mistborn.flac")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-4", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusCompleted {
		t.Fatalf("cover failure must not be fatal, got %s (%s)", job.Status, job.Error)
	}
}

func TestProcessFailure(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.transcodeErr = errors.New("ffmpeg exited with code 1")
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})

	dir := t.TempDir()
	source := writeSource(t, dir, "broken.wav")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-5", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("expected non-empty error")
	}
	if !strings.Contains(job.Error, "exited with code 1") {
		t.Fatalf("expected exit code in error, got %q", job.Error)
	}
	if _, err := os.Stat(job.TempOutputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temp output should be removed on process failure")
	}
	if orch.IsDirectoryLocked(dir) {
		t.Fatal("directory should be unlocked after failure")
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatal("original source must survive a failed conversion")
	}
}

func TestVerifyFailure(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.writeOutput = false
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "ghost.opus")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-6", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.Error, "produced no output") {
		t.Fatalf("expected verify error, got %q", job.Error)
	}
}

func TestCancelConvertingJob(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.block = true
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})

	dir := t.TempDir()
	source := writeSource(t, dir, "long_book.mp3")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-7", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-transcoder.started

	if !orch.IsDirectoryLocked(dir) {
		t.Fatal("directory should be locked while converting")
	}
	if _, ok := orch.ActiveForAudiobook("ab-7"); !ok {
		t.Fatal("expected active job for audiobook")
	}

	if err := orch.Cancel(jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	job, _ := orch.Get(jobID)
	if job.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if orch.IsDirectoryLocked(dir) {
		t.Fatal("directory should be unlocked after cancel")
	}
	if _, ok := orch.ActiveForAudiobook("ab-7"); ok {
		t.Fatal("cancelled job must not count as active")
	}

	waitFor(t, "process termination", transcoder.cancelled.Load)

	// The late pipeline observation of the killed process must not flip the
	// job out of cancelled.
	job = waitTerminal(t, orch, jobID)
	if job.Status != StatusCancelled {
		t.Fatalf("late exit handler mutated job to %s", job.Status)
	}
}

func TestCancelTerminalJob(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeTranscoder(), &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "short.mp3")

	jobID, err := orch.Submit(Request{AudiobookID: "ab-8", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := waitTerminal(t, orch, jobID)

	err = orch.Cancel(jobID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected already-finished error, got %v", err)
	}
	after, _ := orch.Get(jobID)
	if after.Status != before.Status || after.Progress != before.Progress {
		t.Fatal("cancel of a terminal job must not mutate state")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeTranscoder(), &fakeLibrary{})
	if err := orch.Cancel("nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCommitFailureKeepsTempOutput(t *testing.T) {
	transcoder := newFakeTranscoder()
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})

	dir := t.TempDir()
	source := writeSource(t, dir, "blocked.mp3")
	// A directory squatting on the final path makes the commit rename fail.
	if err := os.Mkdir(filepath.Join(dir, "blocked.m4b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	jobID, err := orch.Submit(Request{AudiobookID: "ab-9", SourcePath: source})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitTerminal(t, orch, jobID)
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if _, err := os.Stat(job.TempOutputPath); err != nil {
		t.Fatal("commit failure must keep the encoded temp output for diagnosis")
	}
}

func TestSecondSubmissionForSameDirectoryIsAccepted(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.block = true
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})

	dir := t.TempDir()
	first := writeSource(t, dir, "part1.mp3")
	second := writeSource(t, dir, "part2.mp3")

	firstID, err := orch.Submit(Request{AudiobookID: "ab-10", SourcePath: first})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	// The directory lock is advisory toward the scanner only; a second
	// conversion in the same directory is not rejected.
	secondID, err := orch.Submit(Request{AudiobookID: "ab-11", SourcePath: second})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	if len(orch.ListActive()) != 2 {
		t.Fatalf("expected two active jobs, got %d", len(orch.ListActive()))
	}
	if err := orch.Cancel(firstID); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if !orch.IsDirectoryLocked(dir) {
		t.Fatal("directory must stay locked while the second job is active")
	}
	if err := orch.Cancel(secondID); err != nil {
		t.Fatalf("cancel second: %v", err)
	}
	if orch.IsDirectoryLocked(dir) {
		t.Fatal("directory should unlock once the last job finishes")
	}
}

func TestShutdownTerminatesProcesses(t *testing.T) {
	transcoder := newFakeTranscoder()
	transcoder.block = true
	orch, _ := newTestOrchestrator(t, transcoder, &fakeLibrary{})
	source := writeSource(t, t.TempDir(), "running.mp3")

	if _, err := orch.Submit(Request{AudiobookID: "ab-12", SourcePath: source}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-transcoder.started

	orch.Shutdown()
	waitFor(t, "process termination on shutdown", transcoder.cancelled.Load)
}
