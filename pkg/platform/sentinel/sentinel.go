// Package sentinel holds the storage-level facts stores report. Callers
// translate them into coded domain errors.
package sentinel

import "errors"

var (
	// ErrNotFound means the row or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a row with the same identity already exists.
	ErrConflict = errors.New("conflict")
)
