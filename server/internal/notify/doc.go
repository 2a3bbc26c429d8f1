// Package notify fans drift notifications out to their sinks: the session's
// own WebSocket, outbound webhooks and an optional Kafka change feed.
//
// A sink failure is logged and never blocks or fails the other sinks.
package notify
