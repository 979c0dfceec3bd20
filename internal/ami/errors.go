package ami

import (
	"errors"
	"fmt"
)

// ErrorKind classifies connection and query failures so the orchestrator can
// decide between retrying and giving up.
type ErrorKind string

const (
	ConnectTimeout ErrorKind = "connect_timeout"
	ConnectError   ErrorKind = "connect_error"
	AuthTimeout    ErrorKind = "auth_timeout"
	AuthRejected   ErrorKind = "auth_rejected"
	QueryTimeout   ErrorKind = "query_timeout"
)

// Error is a classified AMI failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ami: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("ami: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" if err is not an ami.Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
