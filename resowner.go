package pgaio

import (
	"container/list"
	"sync"

	"github.com/ehrlich-b/pgaio/internal/logging"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

// ResourceOwner tracks the AIO handles a transaction-scoped owner has
// acquired, guaranteeing they are released even if the caller never gets
// to call Release itself (spec §4.6, grounded on the teacher's
// resource-cleanup pattern for in-flight descriptors at connection
// teardown).
type ResourceOwner struct {
	mu      sync.Mutex
	handles *list.List // list of *Handle, insertion order
	nodes   map[*Handle]*resOwnerNode
}

type resOwnerNode struct {
	elem *list.Element
}

// NewResourceOwner returns an empty owner.
func NewResourceOwner() *ResourceOwner {
	return &ResourceOwner{
		handles: list.New(),
		nodes:   map[*Handle]*resOwnerNode{},
	}
}

// remember records h as belonging to ro, called from Acquire.
func (ro *ResourceOwner) remember(h *Handle) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	elem := ro.handles.PushBack(h)
	node := &resOwnerNode{elem: elem}
	ro.nodes[h] = node
	h.resOwner = ro
	h.resOwnerNode = node
}

// forget removes h from ro's tracking list, called from reclaim.
func (ro *ResourceOwner) forget(h *Handle) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	node, ok := ro.nodes[h]
	if !ok {
		return
	}
	ro.handles.Remove(node.elem)
	delete(ro.nodes, h)
	h.resOwner = nil
	h.resOwnerNode = nil
}

// RememberAioHandle is the public spelling of remember, for callers that
// acquire handles through a path other than Manager.Acquire (e.g. tests
// constructing handles directly).
func (ro *ResourceOwner) RememberAioHandle(h *Handle) { ro.remember(h) }

// ForgetAioHandle is the public spelling of forget.
func (ro *ResourceOwner) ForgetAioHandle(h *Handle) { ro.forget(h) }

// logLeakWarning reports a HANDED_OUT handle reclaimed during a
// non-error-path resource-owner release: the caller acquired it and never
// prepared or released it itself (spec §7 "Leak on resource-owner
// release": warn on the non-error path, silent during error cleanup).
func logLeakWarning(h *Handle) {
	logging.Default().Warnf("pgaio: handle %d reclaimed HANDED_OUT by resource-owner release (leaked by caller)", h.index)
}

// ReleaseAll walks every handle still owned by ro and releases it,
// following the spec's §4.6 state-by-state handling:
//
//   - HANDED_OUT: never prepared; released in place, no I/O to wait for.
//     A non-error-path release here is a caller leak (acquired, never
//     prepared or released) and is warned about; silent on the error path.
//   - DEFINED or PREPARED: submitted via a staging method but not yet
//     flushed; ReleaseAll flushes the batch so the handle can proceed,
//     then waits for it.
//   - IN_FLIGHT, REAPED, or COMPLETED_SHARED: submitted and running or
//     reaped by some backend but not yet locally reclaimed; ReleaseAll
//     waits for it to finish, since the owning backend is about to
//     disappear (transaction/connection teardown) and nothing else will
//     reclaim it.
//   - COMPLETED_LOCAL: already reclaimable; reclaimed immediately.
//
// IDLE is a contract violation here: an idle handle is never tracked by a
// resource owner (invariant I3), so seeing one in ro's list means
// bookkeeping has already gone wrong elsewhere.
//
// onError marks whether this is an error-path cleanup, which downgrades
// the HANDED_OUT leak warning to silence (spec §7 "Leak on resource-owner
// release").
func (ro *ResourceOwner) ReleaseAll(m *Manager, onError bool) {
	for {
		ro.mu.Lock()
		front := ro.handles.Front()
		if front == nil {
			ro.mu.Unlock()
			return
		}
		h := front.Value.(*Handle)
		ro.mu.Unlock()

		switch h.State() {
		case StateIdle:
			trap.Assert(false, "resource owner release: handle %d is IDLE but still tracked", h.index)
		case StateHandedOut:
			if !onError {
				logLeakWarning(h)
			}
			m.Release(h)
		case StateDefined, StatePrepared:
			m.SubmitStaged()
			m.RefWait(h.MakeRef())
			m.Release(h)
		case StateInFlight, StateReaped, StateCompletedShared:
			m.RefWait(h.MakeRef())
			m.Release(h)
		case StateCompletedLocal:
			m.Release(h)
		}
	}
}
