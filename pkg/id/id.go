package id

import "errors"

var (
	// ErrInvalidUUID is returned when parsing a malformed UUID string.
	ErrInvalidUUID = errors.New("id: invalid UUID format")

	// ErrInvalidULID is returned when parsing a malformed ULID string.
	ErrInvalidULID = errors.New("id: invalid ULID format")
)

// Package-level default generators for callers that do not need custom
// configuration.
var (
	defaultUUID = NewUUIDGenerator()
	defaultULID = NewULIDGenerator()
)

// NewUUID returns a UUID v4 string using the default generator.
func NewUUID() string {
	return defaultUUID.Generate()
}

// NewULID returns a ULID string using the default generator.
// ULIDs sort lexicographically by creation time.
func NewULID() string {
	return defaultULID.Generate()
}
