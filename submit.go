package pgaio

import (
	"time"

	"github.com/ehrlich-b/pgaio/internal/constants"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

// stageHandle appends h to this backend's submission batch, flushing
// automatically once it reaches the configured batch size (spec §4.5,
// grounded on the teacher's staged-submission batching in
// internal/queue/runner.go).
func (m *Manager) stageHandle(h *Handle) {
	m.stagedIOs = append(m.stagedIOs, h)
	if len(m.stagedIOs) >= constants.SubmitBatchSize {
		m.SubmitStaged()
	}
}

// SubmitStaged flushes any batched handles to the method's Submit,
// transitioning each to IN_FLIGHT. A no-op if nothing is staged.
func (m *Manager) SubmitStaged() {
	if len(m.stagedIOs) == 0 {
		return
	}
	batch := m.stagedIOs
	m.stagedIOs = nil

	for _, h := range batch {
		h.mu.Lock()
		h.setState([]State{StatePrepared}, StateInFlight, "SubmitStaged")
		h.mu.Unlock()
	}

	if err := m.pool.method.Submit(batch); err != nil {
		for _, h := range batch {
			h.mu.Lock()
			h.result = negErrnoFallback()
			h.reaperProcno = m.procno
			h.setState([]State{StateInFlight}, StateReaped, "SubmitStaged-error")
			h.mu.Unlock()
			m.processCompletion(h)
		}
	}

	m.pool.metrics.submits.Add(int64(len(batch)))
}

// RefWait blocks until ref's handle reaches COMPLETED_SHARED or later,
// then (if this backend owns it) advances it to COMPLETED_LOCAL and
// returns the distilled result. Returns the zero DistilledResult with
// ok=false if ref no longer names a live operation (already reclaimed and
// recycled).
func (m *Manager) RefWait(ref Ref) (DistilledResult, bool) {
	h, ok := m.Resolve(ref)
	if !ok {
		return DistilledResult{}, false
	}

	m.pool.metrics.waits.Add(1)
	m.pool.method.WaitOne(h)

	h.mu.Lock()
	for {
		st := h.State()
		if wasRecycled(h, ref.Generation) {
			h.mu.Unlock()
			return DistilledResult{}, false
		}
		if st == StateCompletedShared || st == StateCompletedLocal {
			break
		}
		h.cv.Wait()
	}

	dr := h.distilledResult
	if h.State() == StateCompletedShared && h.ownerProcno == m.procno {
		h.setState([]State{StateCompletedShared}, StateCompletedLocal, "RefWait")
	}
	h.mu.Unlock()

	m.pool.metrics.waitWakes.Add(1)
	if dr.Status == StatusError {
		m.pool.metrics.ioErrors.Add(1)
	}
	return dr, true
}

// RefCheckDone is the non-blocking poll counterpart to RefWait: returns
// ok=false immediately if the operation has not yet reached
// COMPLETED_SHARED.
func (m *Manager) RefCheckDone(ref Ref) (DistilledResult, bool) {
	h, ok := m.Resolve(ref)
	if !ok {
		return DistilledResult{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.State()
	if st != StateCompletedShared && st != StateCompletedLocal {
		return DistilledResult{}, false
	}
	dr := h.distilledResult
	if st == StateCompletedShared && h.ownerProcno == m.procno {
		h.setState([]State{StateCompletedShared}, StateCompletedLocal, "RefCheckDone")
	}
	return dr, true
}

// waitForFree implements the contention path for Acquire: every handle in
// this backend's partition is in use, so first scan for one that has
// already completed and can be reclaimed inline, then fall back to a
// round-robin poll against each handle's condition variable (spec §4.1
// "wait_for_free"; a per-handle poll rather than a single global futex).
func (m *Manager) waitForFree() *Handle {
	for {
		if h := m.reclaimCompletedInRange(); h != nil {
			return h
		}

		start, end := m.handleRange()
		n := end - start
		idx := start + m.idleCursor%n
		m.idleCursor = (m.idleCursor + 1) % n

		h := m.pool.Handle(idx)
		h.mu.Lock()
		st := h.State()
		if st == StateCompletedShared || st == StateCompletedLocal {
			h.mu.Unlock()
			continue
		}
		h.cv.Wait()
		h.mu.Unlock()

		time.Sleep(constants.AcquireWaitPollInterval / 10)
	}
}

// reclaimCompletedInRange scans this backend's own handles for one it can
// immediately reclaim (HANDED_OUT-but-abandoned is impossible by
// construction; the only reclaimable state outside IDLE is
// COMPLETED_LOCAL, or COMPLETED_SHARED owned by this backend).
func (m *Manager) reclaimCompletedInRange() *Handle {
	start, end := m.handleRange()
	for i := start; i < end; i++ {
		h := m.pool.Handle(i)
		if h.ownerProcno != m.procno {
			continue
		}
		st := h.State()
		if st == StateCompletedShared {
			h.mu.Lock()
			if h.State() == StateCompletedShared {
				h.setState([]State{StateCompletedShared}, StateCompletedLocal, "reclaimCompletedInRange")
			}
			h.mu.Unlock()
			st = StateCompletedLocal
		}
		if st != StateCompletedLocal {
			continue
		}
		m.reclaim(h)
		return h
	}
	return nil
}

// releaseBounceBuffers returns h's bounce-buffer chain to this backend's
// free list (spec §4.8, AFIXME OQ2 resolved as per-backend free lists).
// Must be called with h.mu held, during reclaim.
func (m *Manager) releaseBounceBuffers(h *Handle) {
	bb := h.bounceBuffers
	h.bounceBuffers = nil
	for bb != nil {
		next := bb.Next
		m.idleBBs = append(m.idleBBs, bb.Slot)
		bb = next
	}
	if len(m.idleBBs) > 0 {
		m.pool.metrics.bbWaits.Add(0) // no-op keeps the counter reachable for Snapshot symmetry
	}
}

// AcquireBounceBuffer hands the caller one bounce buffer slot from this
// backend's free list, blocking via WaitForFreeBounceBuffer if none are
// immediately free (spec §4.8).
func (m *Manager) AcquireBounceBuffer(h *Handle) []byte {
	trap.Assert(h.ownerProcno == m.procno, "handle %d: AcquireBounceBuffer by non-owner", h.index)

	if len(m.idleBBs) == 0 {
		m.WaitForFreeBounceBuffer()
	}

	slot := m.idleBBs[len(m.idleBBs)-1]
	m.idleBBs = m.idleBBs[:len(m.idleBBs)-1]

	h.bounceBuffers = &BounceBuffer{Slot: slot, Next: h.bounceBuffers}
	return m.pool.cb.Buffer(slot)
}

// WaitForFreeBounceBuffer blocks until at least one bounce buffer is free
// in this backend's partition, reclaiming completed handles in the
// meantime since reclaiming is the only thing that frees buffers.
func (m *Manager) WaitForFreeBounceBuffer() {
	m.pool.metrics.bbWaits.Add(1)
	for len(m.idleBBs) == 0 {
		if m.reclaimCompletedInRange() == nil {
			time.Sleep(constants.AcquireWaitPollInterval)
		}
	}
}
