// Package daemon wires the conversion orchestrator, reaper, and library
// store into a single long-running process with single-instance locking.
package daemon
