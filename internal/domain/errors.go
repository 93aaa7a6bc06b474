package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Every failure surfaced to a caller,
// over REST or the live channel, is classified as exactly one of these.
var (
	// ErrUnauthenticated is a bad, missing or expired credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound covers absent groups and groups owned by another organization.
	// The two cases are intentionally indistinguishable.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is an authenticated caller lacking the required grant.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation is malformed input such as empty or oversized content.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is a duplicate unique key.
	ErrConflict = errors.New("conflict")
	// ErrInternal is a durable-store or other unexpected failure.
	ErrInternal = errors.New("internal error")
)

// Error pairs a taxonomy sentinel with a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
	cause   error
}

// Errorf builds a classified error with a formatted client-facing message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying failure. The cause is kept for logging and
// errors.Is/As but never rendered to clients.
func Wrap(kind error, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

// Wire codes used by both the REST and live error payloads.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeValidation      = "validation_failed"
	CodeConflict        = "conflict"
	CodeInternal        = "internal"
)

// Code returns the stable wire code for err. Unclassified errors are internal.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// PublicMessage returns the client-safe text for err. Internal failures never
// leak their cause.
func PublicMessage(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		if Code(err) == CodeInternal && !errors.Is(de.Kind, ErrInternal) {
			return "internal error"
		}
		return de.Message
	}
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
