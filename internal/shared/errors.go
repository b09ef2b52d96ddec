package shared

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures into a stable, machine-readable category.
type Kind string

const (
	// KindValidation marks malformed input or unknown permission keys.
	KindValidation Kind = "validation"
	// KindAuthorization marks an actor whose hierarchy level or permissions are insufficient.
	KindAuthorization Kind = "authorization"
	// KindProtectedResource marks an attempted edit of a protected role.
	KindProtectedResource Kind = "protected_resource"
	// KindConflict marks a duplicate active grant.
	KindConflict Kind = "conflict"
	// KindNotFound marks a missing role, user, grant or audit entry.
	KindNotFound Kind = "not_found"
	// KindConsistency marks a mutation rolled back because its audit append failed.
	KindConsistency Kind = "consistency"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates the request carried no resolvable actor.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Error is a domain error carrying a Kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindConsistency
}

// E builds a domain error with a formatted message.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first domain error in the chain, or "" when none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user facing message of a domain error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return ""
}
