package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies service failures so callers can react without string matching.
type Kind string

const (
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindAgentAtCapacity        Kind = "AGENT_AT_CAPACITY"
	KindNoAgentAvailable       Kind = "NO_AGENT_AVAILABLE"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
	KindSessionClosed          Kind = "SESSION_CLOSED"
	KindConfigurationError     Kind = "CONFIGURATION_ERROR"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
	KindAgentNotEligible       Kind = "AGENT_NOT_ELIGIBLE"
	KindForbidden              Kind = "FORBIDDEN"
	KindInternal               Kind = "INTERNAL_ERROR"
)

// Error is the typed error returned by every service operation.
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

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// notFoundOr maps gorm's missing-row error to NotFound and anything else to Internal.
func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newError(KindNotFound, "%s not found", what)
	}
	return wrapError(KindInternal, err, "load %s", what)
}

// conflictOr reports Postgres deadlocks and serialization failures as
// ConcurrentModification so callers retry them; other errors pass through.
func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40P01", // deadlock_detected
		"40001": // serialization_failure
		return wrapError(KindConcurrentModification, err, "transaction conflict")
	default:
		return err
	}
}
