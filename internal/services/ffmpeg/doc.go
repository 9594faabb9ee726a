// Package ffmpeg wraps the external ffmpeg binary used for audiobook
// transcoding, cover extraction, and cover embedding.
package ffmpeg
