// Package apperr defines the error taxonomy shared by the upload engine
// and its transport layer. Callers branch on the Kind of a failure
// instead of matching message strings or unwinding panics.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and for log routing.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown Kind = iota
	// KindValidation marks malformed or out-of-bounds input.
	KindValidation
	// KindNotFound marks an unknown or already-terminated resource.
	KindNotFound
	// KindConflict marks an identifier collision on create.
	KindConflict
	// KindState marks an operation that is not valid in the resource's
	// current state.
	KindState
	// KindIntegrity marks a missing chunk or size mismatch discovered at
	// merge time. Indicates data loss upstream.
	KindIntegrity
	// KindResource marks an entropy source or storage backend failure.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	case KindIntegrity:
		return "integrity"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Error is a classified error. Message is safe to return to callers for
// Validation, NotFound, Conflict and State kinds; Integrity and Resource
// errors are surfaced to callers opaquely and the detail stays in logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two classified errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindUnknown if err is not
// classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// CallerMessage returns the message a caller may see. Integrity and
// Resource failures collapse to a generic message so internal storage
// detail never leaks.
func CallerMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindIntegrity, KindResource, KindUnknown:
		return "internal error"
	default:
		return e.Message
	}
}
