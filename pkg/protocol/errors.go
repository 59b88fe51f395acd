package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrDuplicateCodec     = errors.New("codec already registered")
	ErrRegistryFrozen     = errors.New("registry is frozen")
)

// ValidationError reports construction input that violates a message invariant.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UnsupportedVersionError reports a (version, type) pair with no registered codec.
type UnsupportedVersionError struct {
	Class   string
	Version int
	Type    int
	Typed   bool // Type is meaningful
}

func (e *UnsupportedVersionError) Error() string {
	if e.Typed {
		return fmt.Sprintf("unsupported %s version %d for type %d", e.Class, e.Version, e.Type)
	}
	return fmt.Sprintf("unsupported %s version %d", e.Class, e.Version)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

// MalformedMessageError reports a wire array that is too short or has a
// field failing a type or range check.
type MalformedMessageError struct {
	Class  string
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s: %s: %v", e.Class, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s: %s", e.Class, e.Reason)
}

func (e *MalformedMessageError) Is(target error) bool {
	return target == ErrMalformedMessage
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

func validationErrorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateNotEmpty fails when value is the empty string
func ValidateNotEmpty(field, value string) error {
	if value == "" {
		return validationErrorf(field, "must not be empty")
	}
	return nil
}

// ValidateNotNegative fails when value is below zero
func ValidateNotNegative(field string, value int64) error {
	if value < 0 {
		return validationErrorf(field, "must not be negative, got %d", value)
	}
	return nil
}
