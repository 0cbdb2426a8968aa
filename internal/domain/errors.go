package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification of a workflow
// error. Kinds are part of the core contract: the API layer maps them to
// HTTP codes and the UI decides retry behaviour from them.
type ErrorKind string

const (
	// KindInvalidTransition means the aggregate is not in the source state
	// the requested transition expects.
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	// KindStaleState means an optimistic-lock conflict; the caller should
	// re-fetch and retry.
	KindStaleState ErrorKind = "STALE_STATE"
	// KindValidation means the input itself is unacceptable and must be
	// corrected before retrying.
	KindValidation ErrorKind = "VALIDATION_ERROR"
	// KindDuplicateUnit means a unit identifier was already scanned in the
	// same session.
	KindDuplicateUnit ErrorKind = "DUPLICATE_UNIT"
	// KindIncompleteCount means a stock take cannot complete while lines
	// remain uncounted.
	KindIncompleteCount ErrorKind = "INCOMPLETE_COUNT"
	// KindNotFound means the referenced aggregate does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"
)

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a typed workflow error.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain; empty if err is not a
// workflow error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
