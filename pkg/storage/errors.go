package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidArgument is returned for malformed requests, such as a
	// listing prefix without a trailing separator.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedOperation is returned by backends that cannot perform an
	// operation at all.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrContentConsumed is returned when a Content stream is claimed twice.
	ErrContentConsumed = errors.New("content already consumed")
)

// IOError wraps a disk or network fault raised while performing Op on Key.
type IOError struct {
	Op  string
	Key Key
	Err error
}

func (e *IOError) Error() string {
	if e.Key.IsRoot() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key.String(), e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NotFound returns an error wrapping ErrNotFound for key.
func NotFound(key Key) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// InvalidArgument returns an error wrapping ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Unsupported returns an error wrapping ErrUnsupportedOperation for op.
func Unsupported(op string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedOperation, op)
}

// ValidatePrefix checks that prefix can be used for listing.
func ValidatePrefix(prefix Key) error {
	if !prefix.IsDir() {
		return InvalidArgument("the prefix must end with a slash: %q", prefix.String())
	}
	return nil
}
