// Package events broadcasts conversion status over NATS so other services
// can react to job progress without polling the daemon.
package events
