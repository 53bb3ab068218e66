package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for propagation decisions: config and
// environment errors surface to the caller, quota and test problems stay
// internal, anomalies trigger recovery rather than failure.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindEnvironment   ErrorKind = "environment"
	KindQuotaWarning  ErrorKind = "quota-warning"
	KindTestFailure   ErrorKind = "test-failure"
	KindTimeout       ErrorKind = "timeout"
	KindRuntime       ErrorKind = "runtime-anomaly"
	KindPersistence   ErrorKind = "persistence"
)

// Error is the engine's classified error type.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func configErr(msg string, err error) *Error { return newError(KindConfiguration, msg, err) }
func envErr(msg string, err error) *Error    { return newError(KindEnvironment, msg, err) }
func persistErr(msg string, err error) *Error {
	return newError(KindPersistence, msg, err)
}

// KindOf extracts the classification from an error chain, or "" when the
// error is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
