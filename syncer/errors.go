package syncer

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies sync failures.
type Kind string

// Error kinds.
const (
	KindConfig    Kind = "config"
	KindQuota     Kind = "quota"
	KindTransport Kind = "transport"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindConflict  Kind = "conflict"
	KindIO        Kind = "io"
)

// ErrSyncInProgress is returned when a run is requested while another one
// has not finished.
var ErrSyncInProgress = errors.New("sync already in progress")

// Error is the error type of a failed sync run.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

// Error returns "kind: message[: cause]".
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error without a cause.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error wrapping err.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// KindOf extracts the kind of err, or "" if it is not an Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// classify turns any error from a run step into an Error, keeping the kind
// of errors that already carry one.
func classify(msg string, err error) error {
	var se *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return err
	case IsTimeout(err):
		return Wrap(KindTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, msg, err)
	default:
		return Wrap(KindTransport, msg, err)
	}
}
