// Package apperr defines the error values services hand to the HTTP layer.
//
// Every user-visible failure carries a translation id. Database and backend
// failures also carry the raw engineering detail for operators; domain errors
// never do.
package apperr

import (
	"errors"

	"github.com/MGallo-Code/argus/internal/i18n"
)

// Error is a translated application error.
type Error struct {
	ID     i18n.MessageID
	Detail string // engineering detail; empty for domain errors
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.ID)
	}
	return string(e.ID) + ": " + e.Detail
}

// Unwrap returns the infrastructure error behind a Database or Backend error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Internal reports whether e is an infrastructure failure rather than a domain rule.
func (e *Error) Internal() bool {
	return e.ID == i18n.DatabaseError || e.ID == i18n.BackendIssue
}

// New returns a domain error for id.
func New(id i18n.MessageID) *Error {
	return &Error{ID: id}
}

// Database wraps a store or cache failure.
func Database(err error) *Error {
	return &Error{ID: i18n.DatabaseError, Detail: detail(err), cause: err}
}

// Backend wraps a broker or transport failure.
func Backend(err error) *Error {
	return &Error{ID: i18n.BackendIssue, Detail: detail(err), cause: err}
}

// Is reports whether err is an *Error with the given id.
func Is(err error, id i18n.MessageID) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.ID == id
	}
	return false
}

// From returns err as an *Error, wrapping anything untyped as a Database error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Database(err)
}

func detail(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
