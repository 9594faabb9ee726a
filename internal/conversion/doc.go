// Package conversion orchestrates background audiobook transcoding jobs: it
// owns the in-memory job registry and directory lock set, runs the per-job
// pipeline against an external transcoder, publishes status events after
// every state change, and reaps finished or stuck jobs.
package conversion
