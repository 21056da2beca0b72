package iohub

import (
	"errors"
	"fmt"

	"github.com/aliddell/go-iohub/internal/schema"
)

// Error kinds. Every error returned by this package matches one of these
// with errors.Is when its cause is known.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnsupportedLayout  = errors.New("unsupported layout")
	ErrSchema             = schema.ErrSchema
	ErrUnsupportedVersion = schema.ErrUnsupportedVersion
	ErrOutOfBounds        = errors.New("coordinate out of bounds")
	ErrCorruptData        = errors.New("corrupt data")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrReadOnly           = errors.New("read-only")
	ErrImmutableLayout    = errors.New("layout is immutable after the first write")
	ErrClosed             = errors.New("dataset is closed")
)

var kinds = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrUnsupportedLayout,
	ErrSchema,
	ErrUnsupportedVersion,
	ErrOutOfBounds,
	ErrCorruptData,
	ErrShapeMismatch,
	ErrReadOnly,
	ErrImmutableLayout,
	ErrClosed,
}

// KindOf returns the error kind err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Error carries the operation, location and coordinate an error occurred
// at. It matches its Kind with errors.Is.
type Error struct {
	Op       string
	Location string
	Coord    Coord // nil when the error is not tied to a plane
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Location != "" {
		msg += " " + e.Location
	}
	if e.Coord != nil {
		msg += " at " + e.Coord.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	if e.Kind != nil {
		return msg + ": " + e.Kind.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr attaches the operation context to err. The kind is taken from
// err itself; an existing *Error keeps its coordinate unless c is set.
func wrapErr(op, location string, c Coord, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Op == op {
		return err
	}
	return &Error{
		Op:       op,
		Location: location,
		Coord:    c.Clone(),
		Kind:     KindOf(err),
		Err:      err,
	}
}

// kindErr returns an error of the given kind with a formatted message.
func kindErr(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// CleanupError is returned when an operation failed and releasing its
// resources failed as well. It unwraps to the operation's error only.
type CleanupError struct {
	Err     error
	Cleanup error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%v (cleanup failed: %v)", e.Err, e.Cleanup)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// withCleanup combines a primary error with the error of a cleanup step.
// The primary error always takes precedence.
func withCleanup(primary, cleanup error) error {
	switch {
	case cleanup == nil:
		return primary
	case primary == nil:
		return cleanup
	default:
		return &CleanupError{Err: primary, Cleanup: cleanup}
	}
}
