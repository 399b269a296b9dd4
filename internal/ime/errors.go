package ime

import (
	"errors"
	"fmt"
)

// Command failure kinds. Match with errors.Is.
var (
	ErrRejected     = errors.New("input method rejected by daemon")
	ErrTimeout      = errors.New("daemon did not reply in time")
	ErrDisconnected = errors.New("bus session disconnected")
)

// ErrNotConnected is returned by Engine operations before a successful
// connect. It is never reported to the host; the operations are no-ops.
var ErrNotConnected = errors.New("not connected to input method daemon")

// ConnectError means the bus or the daemon object could not be reached.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to input method daemon: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError is a failed Activate, QueryActive or Reset.
type CommandError struct {
	// Op is the bus operation, e.g. "activate".
	Op string
	// Name is the input method involved, if any.
	Name string
	// Kind is one of ErrRejected, ErrTimeout, ErrDisconnected.
	Kind error
	// Err is the underlying transport error, may be nil.
	Err error
}

// NewCommandError builds a CommandError of the given kind.
func NewCommandError(op, name string, kind, err error) *CommandError {
	return &CommandError{Op: op, Name: name, Kind: kind, Err: err}
}

func (e *CommandError) Error() string {
	msg := e.Op
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of this error.
func (e *CommandError) Is(target error) bool {
	return target == e.Kind
}

func (e *CommandError) Unwrap() error { return e.Err }

// KindOf returns the command failure kind of err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrRejected, ErrTimeout, ErrDisconnected} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
