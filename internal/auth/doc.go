// Package auth provides credential handling for the realtime API.
//
// Issues and verifies HS256 JWTs carrying the username as subject, and
// hashes passwords with bcrypt. The WebSocket endpoint and the task API
// both authenticate through Verify before any state is touched.
package auth
