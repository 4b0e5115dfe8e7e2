// Package redis provides the Redis-backed session registry and the
// cross-instance change notification transport.
//
// The registry ("room state") is the single source of cross-connection
// truth for which task a user currently treats as active. It lives in
// Redis rather than process memory so multiple server instances share
// one view, and upserts are atomic at the storage layer. A per-user
// connection counter drives the disconnect reconciler.
package redis
