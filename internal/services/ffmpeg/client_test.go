package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeExecutor struct {
	lines    []string
	err      error
	lastArgs []string
	onRun    func(coverPath string)
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onStderr func(string)) error {
	f.lastArgs = args
	if f.onRun != nil {
		f.onRun(args[len(args)-1])
	}
	for _, line := range f.lines {
		if onStderr != nil {
			onStderr(line)
		}
	}
	return f.err
}

func TestTranscodeReportsIncreasingFractions(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		"  Duration: 01:00:00.00, start: 0.000000, bitrate: 128 kb/s",
		"size=     128KiB time=00:06:00.00 bitrate= 132.0kbits/s",
		"size=     256KiB time=00:06:00.00 bitrate= 132.0kbits/s",
		"size=     512KiB time=00:30:00.00 bitrate= 132.0kbits/s",
		"size=    1024KiB time=01:00:00.00 bitrate= 132.0kbits/s",
	}}
	client, err := New("ffmpeg", EncodeSettings{}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var fractions []float64
	err = client.Transcode(context.Background(), "/in/book.mp3", "/out/book.m4b", func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("transcode: %v", err)
	}
	want := []float64{0.1, 0.5, 1.0}
	if len(fractions) != len(want) {
		t.Fatalf("expected %d callbacks, got %v", len(want), fractions)
	}
	for i, f := range fractions {
		if f < want[i]-1e-9 || f > want[i]+1e-9 {
			t.Fatalf("fraction %d = %v, want %v", i, f, want[i])
		}
	}
}

func TestTranscodeArgsReencode(t *testing.T) {
	exec := &fakeExecutor{}
	client, err := New("ffmpeg", EncodeSettings{Bitrate: "64k", SampleRate: 22050, Channels: 1}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Transcode(context.Background(), "/in/book.mp3", "/out/book.m4b", nil); err != nil {
		t.Fatalf("transcode: %v", err)
	}
	joined := strings.Join(exec.lastArgs, " ")
	for _, fragment := range []string{"-c:a aac", "-b:a 64k", "-ar 22050", "-ac 1", "-f ipod"} {
		if !strings.Contains(joined, fragment) {
			t.Fatalf("expected %q in args %q", fragment, joined)
		}
	}
}

func TestTranscodeArgsRemux(t *testing.T) {
	exec := &fakeExecutor{}
	client, err := New("ffmpeg", EncodeSettings{}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Transcode(context.Background(), "/in/book.m4a", "/out/book.m4b", nil); err != nil {
		t.Fatalf("transcode: %v", err)
	}
	joined := strings.Join(exec.lastArgs, " ")
	if !strings.Contains(joined, "-c:a copy") {
		t.Fatalf("expected stream copy for m4a source, args %q", joined)
	}
	if strings.Contains(joined, "-c:a aac") {
		t.Fatalf("unexpected re-encode for m4a source, args %q", joined)
	}
}

func TestTranscodeFailureIncludesDiagnostics(t *testing.T) {
	exec := &fakeExecutor{
		lines: []string{"/in/book.mp3: Invalid data found when processing input"},
		err:   errors.New("ffmpeg exited with code 1"),
	}
	client, err := New("ffmpeg", EncodeSettings{}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Transcode(context.Background(), "/in/book.mp3", "/out/book.m4b", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exited with code 1") {
		t.Fatalf("expected exit code in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestTranscodeCancellationPassesThrough(t *testing.T) {
	exec := &fakeExecutor{err: context.Canceled}
	client, err := New("ffmpeg", EncodeSettings{}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Transcode(context.Background(), "/in/book.mp3", "/out/book.m4b", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractCoverRequiresOutput(t *testing.T) {
	dir := t.TempDir()
	coverPath := filepath.Join(dir, "cover.jpg")

	exec := &fakeExecutor{}
	client, err := New("ffmpeg", EncodeSettings{}, WithExecutor(exec))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.ExtractCover(context.Background(), "/in/book.mp3", coverPath); err == nil {
		t.Fatal("expected error when no cover written")
	}

	exec.onRun = func(path string) {
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("write cover: %v", err)
		}
	}
	if err := client.ExtractCover(context.Background(), "/in/book.mp3", coverPath); err != nil {
		t.Fatalf("extract cover: %v", err)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New("  ", EncodeSettings{}); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
