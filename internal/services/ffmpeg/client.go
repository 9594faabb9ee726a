package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// remuxExtensions are source containers already carrying AAC audio; they are
// repackaged without re-encoding.
var remuxExtensions = map[string]struct{}{
	".m4a": {},
	".aac": {},
}

// RemuxExtension reports whether sources with the extension skip the
// re-encode and have their audio stream copied.
func RemuxExtension(ext string) bool {
	_, ok := remuxExtensions[ext]
	return ok
}

// EncodeSettings fixes the output parameters for the re-encode path.
type EncodeSettings struct {
	Bitrate    string
	SampleRate int
	Channels   int
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps ffmpeg CLI interactions.
type Client struct {
	binary   string
	settings EncodeSettings
	exec     Executor
}

// New constructs an ffmpeg client.
func New(binary string, settings EncodeSettings, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	if settings.Bitrate == "" {
		settings.Bitrate = "128k"
	}
	if settings.SampleRate <= 0 {
		settings.SampleRate = 44100
	}
	if settings.Channels <= 0 {
		settings.Channels = 2
	}
	client := &Client{
		binary:   binary,
		settings: settings,
		exec:     commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcode converts sourcePath into an m4b container at outputPath. For
// AAC-family sources the stream is copied; everything else is re-encoded with
// the client's fixed settings. onProgress receives fractional completion in
// (0,1], derived from ffmpeg's reported elapsed time over the input duration,
// and is only invoked for strictly increasing values.
func (c *Client) Transcode(ctx context.Context, sourcePath, outputPath string, onProgress func(float64)) error {
	args := c.transcodeArgs(sourcePath, outputPath)

	var (
		total    time.Duration
		lastFrac float64
		tail     diagnosticTail
	)
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		tail.record(line)
		if total == 0 {
			if d, ok := parseTotalDuration(line); ok && d > 0 {
				total = d
				return
			}
		}
		if onProgress == nil || total <= 0 {
			return
		}
		elapsed, ok := parseElapsed(line)
		if !ok {
			return
		}
		frac := elapsed.Seconds() / total.Seconds()
		if frac > 1 {
			frac = 1
		}
		if frac > lastFrac {
			lastFrac = frac
			onProgress(frac)
		}
	})
	if err != nil {
		return tail.wrap("transcode", err)
	}
	return nil
}

// ExtractCover copies embedded cover art from sourcePath into coverPath.
func (c *Client) ExtractCover(ctx context.Context, sourcePath, coverPath string) error {
	args := []string{
		"-nostdin", "-y",
		"-i", sourcePath,
		"-an",
		"-c:v", "copy",
		"-frames:v", "1",
		coverPath,
	}
	var tail diagnosticTail
	if err := c.exec.Run(ctx, c.binary, args, tail.record); err != nil {
		return tail.wrap("extract cover", err)
	}
	info, err := os.Stat(coverPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("extract cover: no embedded art in %s", filepath.Base(sourcePath))
	}
	return nil
}

// EmbedCover writes a copy of inputPath with coverPath attached as cover art
// to outputPath. Streams are copied, not re-encoded.
func (c *Client) EmbedCover(ctx context.Context, inputPath, coverPath, outputPath string) error {
	args := []string{
		"-nostdin", "-y",
		"-i", inputPath,
		"-i", coverPath,
		"-map", "0:a",
		"-map", "1:v",
		"-c", "copy",
		"-disposition:v:0", "attached_pic",
		"-f", "ipod",
		outputPath,
	}
	var tail diagnosticTail
	if err := c.exec.Run(ctx, c.binary, args, tail.record); err != nil {
		return tail.wrap("embed cover", err)
	}
	return nil
}

func (c *Client) transcodeArgs(sourcePath, outputPath string) []string {
	args := []string{
		"-nostdin", "-y",
		"-i", sourcePath,
		"-vn",
	}
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if _, ok := remuxExtensions[ext]; ok {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args,
			"-c:a", "aac",
			"-b:a", c.settings.Bitrate,
			"-ar", strconv.Itoa(c.settings.SampleRate),
			"-ac", strconv.Itoa(c.settings.Channels),
		)
	}
	args = append(args,
		"-movflags", "+faststart",
		"-f", "ipod",
		outputPath,
	)
	return args
}

// diagnosticTail keeps the last few stderr lines so process failures carry
// usable context without exposing the full raw stream.
type diagnosticTail struct {
	lines []string
}

const tailLimit = 8

func (t *diagnosticTail) record(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLimit {
		t.lines = t.lines[len(t.lines)-tailLimit:]
	}
}

func (t *diagnosticTail) wrap(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if len(t.lines) == 0 {
		return fmt.Errorf("ffmpeg %s: %w", operation, err)
	}
	return fmt.Errorf("ffmpeg %s: %w: %s", operation, err, t.lines[len(t.lines)-1])
}
