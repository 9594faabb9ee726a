package conversion

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bindery/internal/logging"
)

// fakeTranscoder scripts transcode, extract, and embed outcomes.
type fakeTranscoder struct {
	mu           sync.Mutex
	transcodeErr error
	extractErr   error
	embedErr     error
	fractions    []float64
	writeOutput  bool
	writeCover   bool
	writeEmbed   bool

	// block makes Transcode wait for context cancellation, simulating a
	// long-running encode.
	block     bool
	started   chan struct{}
	startOnce sync.Once
	cancelled atomic.Bool
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		writeOutput: true,
		started:     make(chan struct{}),
	}
}

func (f *fakeTranscoder) Transcode(ctx context.Context, sourcePath, outputPath string, onProgress func(float64)) error {
	f.startOnce.Do(func() { close(f.started) })
	if f.block {
		<-ctx.Done()
		f.cancelled.Store(true)
		return ctx.Err()
	}
	for _, fraction := range f.fractions {
		if onProgress != nil {
			onProgress(fraction)
		}
	}
	if f.writeOutput {
		if err := os.WriteFile(outputPath, []byte("m4b bytes"), 0o644); err != nil {
			return err
		}
	}
	return f.transcodeErr
}

func (f *fakeTranscoder) ExtractCover(ctx context.Context, sourcePath, coverPath string) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	if f.writeCover {
		return os.WriteFile(coverPath, []byte("jpeg"), 0o644)
	}
	return os.ErrNotExist
}

func (f *fakeTranscoder) EmbedCover(ctx context.Context, inputPath, coverPath, outputPath string) error {
	if f.embedErr != nil {
		return f.embedErr
	}
	if f.writeEmbed {
		return os.WriteFile(outputPath, []byte("m4b with cover"), 0o644)
	}
	return f.embedErr
}

// fakeLibrary records commit updates.
type fakeLibrary struct {
	mu      sync.Mutex
	err     error
	updates []libraryUpdate
}

type libraryUpdate struct {
	audiobookID string
	path        string
	size        int64
}

func (f *fakeLibrary) UpdateMediaFile(ctx context.Context, audiobookID, path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, libraryUpdate{audiobookID: audiobookID, path: path, size: size})
	return nil
}

func (f *fakeLibrary) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// collector gathers published events for sequence assertions.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Publish(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]Event, len(c.events))
	copy(cp, c.events)
	return cp
}

func newTestOrchestrator(t *testing.T, transcoder Transcoder, library LibraryUpdater) (*Orchestrator, *collector) {
	t.Helper()
	events := &collector{}
	orch, err := NewOrchestrator(transcoder, library, events, logging.NewNop(), Settings{
		CoverExtractTimeout: time.Second,
		CoverEmbedTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, events
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("source audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func waitFor(t *testing.T, what string, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, orch *Orchestrator, jobID string) Job {
	t.Helper()
	waitFor(t, "job to reach a terminal state", func() bool {
		job, ok := orch.Get(jobID)
		return ok && job.Status.Terminal()
	})
	job, _ := orch.Get(jobID)
	return job
}
