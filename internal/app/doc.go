// Package app provides the application service layer.
//
// Orchestrates use cases: accounts, task and interval mutations, session
// registry reads/writes, reports, and the disconnect reconciler. Sits
// between the protocol handlers and domain repositories. Depends on domain
// interfaces, not concrete implementations. Mutating task operations hand
// back a change notice for the caller to publish after the ack is sent.
package app
