package storage

import (
	"errors"
	"strings"
)

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrDuplicateKeyID is returned when a generated key ID collides with a stored one
	ErrDuplicateKeyID = errors.New("API key ID already exists")

	// ErrDuplicateRunID is returned when a result with the same run_id was already submitted
	ErrDuplicateRunID = errors.New("result with this run_id already exists")

	// ErrResultNotFound is returned when a result is not found
	ErrResultNotFound = errors.New("result not found")

	// ErrWindowContention is returned when a rate limit window could not be settled
	ErrWindowContention = errors.New("rate limit window contention")
)

// isUniqueViolation recognises unique constraint failures from sqlite, lib/pq and pgx.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
