// Package domain holds the types shared by every medtrack aggregate: the
// error taxonomy, civil dates and change events.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidRange = errors.New("invalid range")
	ErrValidation   = errors.New("validation failed")
)

// Error is a typed domain failure. Kind is one of the sentinels above.
type Error struct {
	Kind    error
	Entity  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Entity, e.Kind)
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound reports that the named entity does not exist.
func NotFound(entity string) error {
	return &Error{Kind: ErrNotFound, Entity: entity, Message: entity + " not found"}
}

// Conflict reports a uniqueness or referential violation.
func Conflict(entity, message string) error {
	return &Error{Kind: ErrConflict, Entity: entity, Message: message}
}

// InvalidRange reports an end date that is not after its start date.
func InvalidRange(entity string) error {
	return &Error{Kind: ErrInvalidRange, Entity: entity, Message: "End date must be after start date"}
}

// Invalid reports a request that fails a domain shape rule.
func Invalid(entity, message string) error {
	return &Error{Kind: ErrValidation, Entity: entity, Message: message}
}
