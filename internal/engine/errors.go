package engine

import (
	"errors"
	"fmt"

	"sourceline/internal/award"
)

var (
	ErrSupplierNotFound = errors.New("Supplier not found")
	ErrNoSuppliers      = award.ErrNoSuppliers
)

// PreconditionError reports a workflow step that cannot run in the current
// project state.
type PreconditionError struct {
	Reason string
}

func (e PreconditionError) Error() string {
	return e.Reason
}

// ConfigError reports a transport or provider that has no credentials.
type ConfigError struct {
	Dependency string
	Message    string
}

func (e ConfigError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is not configured", e.Dependency)
}

// InvalidInputError reports a malformed request argument.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e InvalidInputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func precondition(format string, args ...any) error {
	return PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

func invalid(field, message string) error {
	return InvalidInputError{Field: field, Message: message}
}
