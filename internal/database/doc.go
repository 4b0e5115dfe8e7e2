// Package database provides PostgreSQL connectivity and repositories.
//
// Uses pgx for connection pooling and tern for migrations, which are
// embedded and applied under an advisory lock so concurrently starting
// instances do not race each other.
// Repositories implement domain interfaces: TaskRepository, UserRepository.
package database
