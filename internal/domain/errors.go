package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotMapped is returned when no server owns an entity code.
	ErrEntityNotMapped = errors.New("entity not mapped to any server")
	// ErrServerNotFound is returned when a server name is not part of the fleet.
	ErrServerNotFound = errors.New("server not found")
	// ErrCredentialsUnresolved is returned when no credential tier yields a user and password.
	ErrCredentialsUnresolved = errors.New("credentials unresolved")
	// ErrUnknownTemplate is returned for report ids missing from the catalog.
	ErrUnknownTemplate = errors.New("unrecognized template")
	// ErrTemplateNotFanOut is returned when a report that needs shard routing
	// or a secondary fetch is submitted as a plain fan-out template.
	ErrTemplateNotFanOut = errors.New("template is not a multi-server report")
	// ErrResultNotFound is returned when no terminal result is cached for a request id.
	ErrResultNotFound = errors.New("result not found")
	// ErrUnsupportedFormat is returned for export formats other than csv and xlsx.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ValidationError rejects a request before any network I/O happens.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
