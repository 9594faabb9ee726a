package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// parseTotalDuration extracts the one-time "Duration: HH:MM:SS.cc" marker
// ffmpeg prints while probing the input.
func parseTotalDuration(line string) (time.Duration, bool) {
	idx := strings.Index(line, "Duration:")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[idx+len("Duration:"):])
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	return parseClock(strings.TrimSpace(rest))
}

// parseElapsed extracts the repeating "time=HH:MM:SS.cc" marker from ffmpeg
// progress lines. ffmpeg reports "time=N/A" before the first frame.
func parseElapsed(line string) (time.Duration, bool) {
	idx := strings.Index(line, "time=")
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len("time="):]
	if space := strings.IndexByte(rest, ' '); space >= 0 {
		rest = rest[:space]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" || strings.EqualFold(rest, "N/A") {
		return 0, false
	}
	return parseClock(rest)
}

func parseClock(value string) (time.Duration, bool) {
	value = strings.TrimPrefix(value, "-")
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}
