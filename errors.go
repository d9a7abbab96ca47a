package pgaio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// IOError wraps a failed operation's raw negative-errno result into a Go
// error, attached to DistilledResult.ErrorData by the default completion
// path (spec §7). Adapted from the teacher's *Error type: a structured
// error carrying enough detail for both logging and errors.Is matching,
// rather than a bare fmt.Errorf string.
type IOError struct {
	Op     Op
	Errno  unix.Errno
	Handle int
}

func (e *IOError) Error() string {
	return fmt.Sprintf("handle %d: %s failed: %s", e.Handle, e.Op, e.Errno.Error())
}

func (e *IOError) Unwrap() error { return e.Errno }

func (e *IOError) Is(target error) bool {
	var other *IOError
	if errors.As(target, &other) {
		return e.Errno == other.Errno && e.Op == other.Op
	}
	return false
}

// ErrNoBounceBuffers names an exhausted bounce-buffer partition. No
// function in this package returns it: AcquireBounceBuffer has no
// non-blocking variant and waits in WaitForFreeBounceBuffer until a
// buffer is free.
var ErrNoBounceBuffers = errors.New("pgaio: no free bounce buffers in this backend's partition")

// errorFromRaw builds an *IOError from a raw negative-errno syscall
// result, or nil if raw >= 0.
func errorFromRaw(op Op, handleIndex int, raw int64) error {
	if raw >= 0 {
		return nil
	}
	return &IOError{Op: op, Errno: unix.Errno(-raw), Handle: handleIndex}
}
