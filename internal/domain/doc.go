// Package domain defines the core domain types and interfaces.
//
// This package contains the task and work-interval model, the per-user room
// state kept in Redis, and the repository contracts implemented by the
// database and redis packages. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
