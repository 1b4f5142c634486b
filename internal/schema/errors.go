package schema

import (
	"errors"
	"fmt"
)

// ViolationError reports data or a definition that does not conform to the
// schema.
type ViolationError struct {
	// Type is the node or edge type involved, if any.
	Type string

	// Property is the property involved, if any.
	Property string

	Message string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	switch {
	case e.Type != "" && e.Property != "":
		return fmt.Sprintf("%s.%s: %s", e.Type, e.Property, e.Message)
	case e.Type != "":
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	default:
		return e.Message
	}
}

// IsViolation returns true if err is or wraps a *ViolationError.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

func violationf(typ, prop, format string, args ...any) *ViolationError {
	return &ViolationError{Type: typ, Property: prop, Message: fmt.Sprintf(format, args...)}
}
