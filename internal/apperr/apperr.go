// Package apperr provides the error taxonomy shared by every stage of a run.
//
// Each failure is tagged with a Code. The code decides whether the run can
// continue (fetch, transport and render failures are local to one stage or one
// notification) or must stop before anything is persisted (store, corrupt
// state, lock and configuration failures).
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeFetch     Code = "FETCH_FAILED"
	CodeMalformed Code = "MALFORMED_SNAPSHOT"
	CodeStore     Code = "STORE_FAILED"
	CodeCorrupt   Code = "STATE_CORRUPT"
	CodeLock      Code = "LOCK_HELD"
	CodeTransport Code = "TRANSPORT_FAILED"
	CodeRender    Code = "RENDER_FAILED"
	CodeConfig    Code = "CONFIG_INVALID"
)

var fatal = map[Code]bool{
	CodeStore:   true,
	CodeCorrupt: true,
	CodeLock:    true,
	CodeConfig:  true,
}

// Error is a classified failure. Err keeps the underlying cause so that
// errors.Is still matches package sentinels such as storage.ErrNotFound.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether a failure of this class must abort the run.
func (e *Error) Fatal() bool {
	return fatal[e.Code]
}

// New wraps err with a code and the operation that failed.
// A nil err yields nil.
func New(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Fetch wraps a schedule fetch failure.
func Fetch(op string, err error) error { return New(CodeFetch, op, err) }

// Store wraps a remote store failure.
func Store(op string, err error) error { return New(CodeStore, op, err) }

// Transport wraps a message transport failure.
func Transport(op string, err error) error { return New(CodeTransport, op, err) }

// Render wraps an export sink failure.
func Render(op string, err error) error { return New(CodeRender, op, err) }

// CodeOf returns the code of the outermost classified error in err's chain,
// or the empty code when err is unclassified.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether err must abort the run. Unclassified errors are
// treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return true
}
