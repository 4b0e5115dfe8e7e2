// Package server implements the HTTP and WebSocket surface using Echo.
//
// Routes: auth (signup/login JSON API), ws (the event protocol),
// dashboard (session-gated ops UI), health and metrics endpoints.
// Handlers split by concern: handlers_auth.go, handlers_ws.go plus
// events.go, handlers_dashboard.go, handlers_health.go.
package server
