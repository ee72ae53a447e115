package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected means the shared engine is no longer reachable.
	ErrDisconnected = errors.New("engine: disconnected")

	// ErrNotStarted is returned by operations on a handle before Start.
	ErrNotStarted = errors.New("engine: not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrTimeout matches engine operations that ran out of time.
	ErrTimeout = errors.New("engine: timeout")
)

// Error reports a failure of the shared engine itself, as opposed to a
// failure of one page inside it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}
