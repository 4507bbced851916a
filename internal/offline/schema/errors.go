package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrUnknownAction is returned when an action name is not one of the
	// six queue actions.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownKind is returned when a record kind or collection name is
	// not recognized.
	ErrUnknownKind = errors.New("unknown record kind")
)

// invalid wraps a validation message with ErrInvalidRecord.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
