// Package services provides shared error classification for components that
// talk to external tools and storage.
package services
