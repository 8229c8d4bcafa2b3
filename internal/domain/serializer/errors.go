package serializer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a required struct field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrOverflow is returned when a number does not fit the target type.
	ErrOverflow = errors.New("value out of range")
	// ErrUnsupportedType is returned for types with no wire representation.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrInvalidTarget is returned when Read is given a non-settable target.
	ErrInvalidTarget = errors.New("invalid decode target")
	// ErrTooDeep is returned for values nested beyond maxDepth.
	ErrTooDeep = errors.New("value nested too deeply")
)

// maxDepth bounds recursion, which also stops self-referencing pointers.
const maxDepth = 64

// Error locates a conversion failure inside a value.
type Error struct {
	// Path is the location of the failing value, e.g. "Record.tags[2]".
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serializer: %v", e.Err)
	}
	return fmt.Sprintf("serializer: %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// at prefixes the path of err with segment.
func at(segment string, err error) error {
	var serr *Error
	if errors.As(err, &serr) {
		path := segment
		if serr.Path != "" {
			if serr.Path[0] == '[' {
				path += serr.Path
			} else {
				path += "." + serr.Path
			}
		}
		return &Error{Path: path, Err: serr.Err}
	}
	return &Error{Path: segment, Err: err}
}
