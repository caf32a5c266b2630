// Package id provides UUIDv7 primary keys for records.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the primary key type of every record.
type ID = uuid.UUID

// New generates a new time-ordered UUIDv7.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// FromValue converts a primary key value read by a database driver.
// pgx returns [16]byte for uuid columns, SQLite returns TEXT.
func FromValue(v any) (ID, error) {
	switch val := v.(type) {
	case ID:
		return val, nil
	case [16]byte:
		return ID(val), nil
	case string:
		return uuid.Parse(val)
	case []byte:
		if len(val) == 16 {
			return uuid.FromBytes(val)
		}
		return uuid.ParseBytes(val)
	case nil:
		return uuid.Nil, fmt.Errorf("id is null")
	}
	return uuid.Nil, fmt.Errorf("unsupported id type %T", v)
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
