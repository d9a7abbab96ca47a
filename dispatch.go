package pgaio

import (
	"github.com/ehrlich-b/pgaio/internal/syscallio"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

// PrepReadv prepares h as a vectored read of iovs at offset on fd. h must
// be HANDED_OUT and have a non-invalid subject (spec §4.3 preconditions).
func (m *Manager) PrepReadv(h *Handle, fd int, iovs []Iovec, offset int64) {
	m.prepOp(h, OpRead, fd, iovs, offset)
}

// PrepWritev prepares h as a vectored write of iovs at offset on fd.
func (m *Manager) PrepWritev(h *Handle, fd int, iovs []Iovec, offset int64) {
	m.prepOp(h, OpWrite, fd, iovs, offset)
}

func (m *Manager) prepOp(h *Handle, op Op, fd int, iovs []Iovec, offset int64) {
	trap.Assert(h.ownerProcno == m.procno, "handle %d: prepOp by non-owner", h.index)
	trap.Assert(h.subject != SubjectInvalid, "handle %d: prepOp with no subject", h.index)
	trap.Assert(len(iovs) <= m.pool.cb.CombineLimit(),
		"handle %d: %d iovecs exceeds combine limit %d", h.index, len(iovs), m.pool.cb.CombineLimit())

	total := 0
	for _, iov := range iovs {
		total += len(iov.Base)
	}

	h.mu.Lock()
	h.op = op
	h.opData = OpData{FD: fd, Offset: offset, IOVLength: total}
	h.iovecs = iovs
	h.setState([]State{StateHandedOut}, StateDefined, "prepOp")
	h.mu.Unlock()

	// The handle has left HANDED_OUT, so invariant I4's "at most one
	// unprepared handed-out handle" no longer applies to it: a new
	// Acquire may proceed even though this one hasn't been reclaimed yet.
	if m.handedOutIO == h {
		m.handedOutIO = nil
	}

	runPrepareCallbacks(h)

	h.mu.Lock()
	h.setState([]State{StateDefined}, StatePrepared, "prepOp")
	h.mu.Unlock()

	if m.pool.method.NeedsSync() {
		m.executeSync(h)
		return
	}

	m.stageHandle(h)
}

// executeSync runs the syscall immediately and drives completion inline,
// for methods that declare synchronous execution (spec §4.3).
func (m *Manager) executeSync(h *Handle) {
	h.mu.Lock()
	h.setState([]State{StatePrepared}, StateInFlight, "executeSync")
	h.mu.Unlock()

	raw := m.runSyscall(h)

	h.mu.Lock()
	h.result = raw
	h.reaperProcno = m.procno
	h.setState([]State{StateInFlight}, StateReaped, "executeSync")
	h.mu.Unlock()

	m.processCompletion(h)
}

// runSyscall performs the actual fd-level operation, reopening the fd
// through the subject's hook first if the reaping process differs from
// the issuer (supplemented from original_source/aio_subject.c; see
// SPEC_FULL.md's "Reopen hook" note and DESIGN.md OQ5).
func (m *Manager) runSyscall(h *Handle) int64 {
	fd := h.opData.FD
	if h.reaperProcno != h.ownerProcno {
		if s := lookupSubject(h.subject); s != nil && s.Reopen != nil {
			reopened, err := s.Reopen(h)
			if err != nil {
				return negErrnoFallback()
			}
			fd = reopened
		}
	}

	bufs := make([][]byte, len(h.iovecs))
	for i, iov := range h.iovecs {
		bufs[i] = iov.Base
	}

	switch h.op {
	case OpRead:
		return syscallio.Preadv(fd, bufs, h.opData.Offset)
	case OpWrite:
		return syscallio.Pwritev(fd, bufs, h.opData.Offset)
	case OpFsync:
		return syscallio.Fsync(fd)
	case OpFlushRange:
		return syscallio.FlushRange(fd, h.opData.Offset, int64(h.opData.IOVLength))
	case OpNop:
		return 0
	default:
		trap.Assert(false, "handle %d: runSyscall with invalid op", h.index)
		return -1
	}
}

func negErrnoFallback() int64 { return -5 /* EIO */ }

// processCompletion runs the shared callback chain and publishes
// COMPLETED_SHARED (spec §4.2/§4.3). Any backend observing REAPED may be
// the one to call this, not necessarily the owner.
func (m *Manager) processCompletion(h *Handle) {
	dr := runCompletionCallbacks(h, h.result)

	h.mu.Lock()
	h.distilledResult = dr
	h.setState([]State{StateReaped}, StateCompletedShared, "processCompletion")
	h.mu.Unlock()
}
