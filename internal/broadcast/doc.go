// Package broadcast fans change notifications out to every live
// WebSocket connection of a user.
//
// The Hub is a single-goroutine actor keyed by username: channel
// membership changes and broadcasts all flow through one command
// channel, so no mutexes guard the client maps. Each connection gets a
// dedicated writer goroutine with a bounded send buffer; clients that
// cannot keep up are evicted rather than allowed to stall the fan-out.
// The Listener bridges the Redis Pub/Sub change channel into the local
// hub, so notices published on any instance reach this instance's
// connections.
package broadcast
