package backup

import (
	"errors"

	"github.com/dukerupert/servicedesk/internal/archive"
	"github.com/dukerupert/servicedesk/internal/checksum"
	"github.com/dukerupert/servicedesk/internal/integrity"
)

// Kind classifies orchestrator failures so callers can tell caller errors,
// safety blocks and operational failures apart.
type Kind string

const (
	KindUnknown            Kind = ""
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindInvalidState       Kind = "invalid_state"
	KindProtectedResource  Kind = "protected_resource"
	KindIntegrityViolation Kind = "integrity_violation"
	KindExternalProcess    Kind = "external_process"
	KindIO                 Kind = "io"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidArgument    = &Error{Kind: KindInvalidArgument}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrProtectedResource  = &Error{Kind: KindProtectedResource}
	ErrIntegrityViolation = &Error{Kind: KindIntegrityViolation}
	ErrExternalProcess    = &Error{Kind: KindExternalProcess}
	ErrIO                 = &Error{Kind: KindIO}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Markers refine a kind without changing the error text.
var (
	// ErrNotRecorded matches create failures that happened before the attempt
	// was written to the catalog. No failure record or alert exists for them.
	ErrNotRecorded = errors.New("backup attempt not recorded")
	// ErrAlreadyDeleted matches operations refused because the record is
	// already tombstoned.
	ErrAlreadyDeleted = errors.New("backup already deleted")
)

type marked struct {
	error
	mark error
}

func (e marked) Unwrap() error { return e.error }

func (e marked) Is(target error) bool { return target == e.mark }

func unrecorded(err error) error { return marked{err, ErrNotRecorded} }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf classifies err. Process failures from the archive runner or the
// integrity checker count as external process errors and checksum read
// failures as IO errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, archive.ErrProcess), errors.Is(err, integrity.ErrProcess):
		return KindExternalProcess
	case errors.Is(err, checksum.ErrIO):
		return KindIO
	}
	return KindUnknown
}

// classify wraps an untyped error in the kind KindOf assigns it, defaulting
// to fallback.
func classify(err error, msg string, fallback Kind) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = fallback
	}
	return newError(kind, msg, err)
}
