package journal

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrRunNotFound is returned when a run id has no row.
	ErrRunNotFound = errors.New("run not found")
)
