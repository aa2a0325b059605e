package storage

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateID is returned when an insert collides with an existing
// primary key. Surfaced unchanged to the caller; the store never retries.
var ErrDuplicateID = errors.New("storage: duplicate id")

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. The modernc driver exposes constraint violations only through
// the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
