// Command bindery is the audiobook conversion daemon and its CLI. The daemon
// subcommand runs conversions in the background; convert performs a one-shot
// conversion in the foreground.
package main
