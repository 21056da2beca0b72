package schema

import "errors"

var (
	// ErrSchema is returned when a record is malformed, misses required
	// fields, or violates a semantic rule.
	ErrSchema = errors.New("invalid metadata")

	// ErrUnsupportedVersion is returned when no migration path exists
	// between the detected and the requested version.
	ErrUnsupportedVersion = errors.New("unsupported metadata version")
)
