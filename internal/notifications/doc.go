// Package notifications delivers user-facing push notifications through ntfy
// and adapts conversion status events onto that surface.
package notifications
