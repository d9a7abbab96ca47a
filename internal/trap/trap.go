// Package trap implements the assertion and failure plumbing consumed by
// every other AIO package (C8). A contract violation in this spec is
// unrecoverable by definition (spec §7): the process that detects one logs
// it and terminates by panicking with a *ContractViolation. Callers at a
// backend's outermost public entry point may recover it to turn it into a
// fatal log line instead of crashing the whole binary that hosts several
// simulated backends in-process; this mirrors Postgres's elog(PANIC),
// which kills one backend process, not the postmaster.
package trap

import (
	"fmt"

	"github.com/ehrlich-b/pgaio/internal/logging"
)

// ContractViolation is panicked by Assert. It is never constructed to be
// returned as an ordinary error — see errors.go at the repo root for the
// recoverable error kinds.
type ContractViolation struct {
	Msg string
}

func (c *ContractViolation) Error() string {
	return "pgaio: contract violation: " + c.Msg
}

// Assert panics with a *ContractViolation if cond is false, after logging
// the formatted message at Error level. Use only for conditions the spec
// declares impossible under correct use (double acquire without prepare,
// release of a handle not HANDED_OUT, observing IDLE/HANDED_OUT inside
// RefWait's loop, state-machine impossibilities in WaitForFree).
func Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	logging.Default().Error(msg)
	panic(&ContractViolation{Msg: msg})
}

// Recover converts a panicked *ContractViolation into a log line and
// stores it in *errp (if errp is non-nil) instead of letting the panic
// propagate. It must itself be the deferred call (defer trap.Recover(&err))
// at the boundary of one simulated backend's goroutine, so that one
// backend's contract violation does not take down every other backend
// sharing the control block. Any other panic value is re-panicked.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if cv, ok := r.(*ContractViolation); ok {
		logging.Default().Error("recovered contract violation: " + cv.Msg)
		if errp != nil {
			*errp = cv
		}
		return
	}
	panic(r)
}
