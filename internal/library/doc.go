// Package library persists audiobook records in SQLite. Conversion commits
// call UpdateMediaFile to point an audiobook at its converted media file.
package library
