package pgaio

import (
	"fmt"

	"github.com/ehrlich-b/pgaio/internal/barrier"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

func barrierWrite() { barrier.Write() }
func barrierRead()  { barrier.Read() }

// State is one of the 8 states a handle moves through. Backward edges
// exist only via reclaim to Idle (invariant I1).
type State int32

const (
	StateIdle State = iota
	StateHandedOut
	StateDefined
	StatePrepared
	StateInFlight
	StateReaped
	StateCompletedShared
	StateCompletedLocal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandedOut:
		return "HANDED_OUT"
	case StateDefined:
		return "DEFINED"
	case StatePrepared:
		return "PREPARED"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateReaped:
		return "REAPED"
	case StateCompletedShared:
		return "COMPLETED_SHARED"
	case StateCompletedLocal:
		return "COMPLETED_LOCAL"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// publishedWithBarrier is the set of states that other backends may
// observe and that therefore require a write barrier before publication
// (spec §4.2 "Memory barriers").
func publishedWithBarrier(s State) bool {
	switch s {
	case StateInFlight, StateReaped, StateCompletedShared, StateIdle:
		return true
	default:
		return false
	}
}

// State reads the handle's current state with a read barrier, safe to
// call from any backend without holding h.mu (spec: "readers issue a read
// barrier after reading state before dereferencing other fields").
func (h *Handle) State() State {
	s := State(h.stateVal.Load())
	barrierRead()
	return s
}

// setState is the sole place a handle's state field is written. Callers
// must hold h.mu. It asserts the precondition state, publishes with a
// write barrier when the new state crosses backends, and wakes anyone
// parked on the condition variable.
func (h *Handle) setState(allowed []State, to State, reason string) {
	cur := State(h.stateVal.Load())
	ok := false
	for _, a := range allowed {
		if a == cur {
			ok = true
			break
		}
	}
	trap.Assert(ok, "handle %d: %s: invalid transition %s -> %s", h.index, reason, cur, to)

	if publishedWithBarrier(to) {
		barrierWrite()
	}
	h.stateVal.Store(int32(to))
	if publishedWithBarrier(to) {
		barrierWrite()
	}
	h.cv.Broadcast()
}

// bumpGeneration increments the generation counter with a barrier on
// both sides, per invariant I2. Called only as part of the
// HandedOut/CompletedLocal -> Idle reclaim transition.
func (h *Handle) bumpGeneration() {
	barrierWrite()
	g := h.generation.Add(1)
	barrierWrite()
	trap.Assert(g != 0, "handle %d: generation wrapped to zero", h.index)
}

// wasRecycled reports whether gen no longer matches the handle's current
// generation: the reference's target has been reused by someone else and
// callers must treat it as "any state, not mine" (invariant I5).
func wasRecycled(h *Handle, gen uint64) bool {
	return h.Generation() != gen
}

// MakeRef returns the reference naming h's current identity.
func (h *Handle) MakeRef() Ref {
	return Ref{Index: uint32(h.index), Generation: h.Generation()}
}
