package inspector

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by commands addressed to a connection that is not registered.
var ErrNotFound = errors.New("client not found")

// AddressError reports a malformed listen address. No I/O is attempted for it.
type AddressError struct {
	Address string
	Err     error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("AddressError: invalid socket address %q: %v", e.Address, e.Err)
}

func (e *AddressError) Unwrap() error { return e.Err }

// BindError reports that the OS refused to bind or listen.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("BindError: %v", e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// StatusError reports an operation that is invalid in the current lifecycle state.
type StatusError struct {
	Status Status
	Msg    string
}

func (e *StatusError) Error() string { return "StatusError: " + e.Msg }

// CloseError reports a close frame that cannot be sent.
type CloseError struct {
	Code   uint16
	Reason string
	Msg    string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("invalid close frame (code %d): %s", e.Code, e.Msg)
}

func statusError(s Status) *StatusError {
	switch s {
	case StatusStarting:
		return &StatusError{Status: s, Msg: "server is starting"}
	case StatusStarted:
		return &StatusError{Status: s, Msg: "already started"}
	case StatusStopping:
		return &StatusError{Status: s, Msg: "server is stopping"}
	default:
		return &StatusError{Status: s, Msg: "already stopped"}
	}
}
