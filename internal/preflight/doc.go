// Package preflight provides readiness checks for the external encoder and
// filesystem paths the daemon depends on. The daemon runs them once at
// startup; the CLI status command reuses them for display.
package preflight
