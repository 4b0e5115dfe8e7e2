// Package config provides environment-based configuration.
//
// Loads from a .env file when present (godotenv), then overlays process env.
// Validates required fields; connection and rate limits get sane defaults.
package config
