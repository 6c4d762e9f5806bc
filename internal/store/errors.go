// Package store provides the durable SQLite record layer shared by every
// kernel repository: connection pools, transaction helpers, and the error
// kinds surfaced when the store itself is unhealthy.
package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable indicates the database could not be opened or a
	// write failed at the connection level. Retryable by the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMigrationFailed indicates the schema could not be brought up to
	// date at boot. The process should exit with remediation guidance.
	ErrMigrationFailed = errors.New("schema migration failed")
)

// MigrationError wraps err with the migration sentinel and a hint naming the
// database file so operators can inspect or move it aside.
func MigrationError(dbPath string, err error) error {
	return fmt.Errorf("%w: %v (inspect or move aside %s and restart)", ErrMigrationFailed, err, dbPath)
}

// UnavailableError wraps err with the store-unavailable sentinel.
func UnavailableError(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// IsNotFound reports whether err is an entity lookup miss. Repositories
// return "<entity> not found: <id>" errors; handlers map these to 404.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

// IsConflict reports whether err is a uniqueness or constraint violation.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}

// IsUnavailable reports whether err stems from the store being unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrMigrationFailed)
}
