package pgaio

import (
	"sync/atomic"

	"github.com/ehrlich-b/pgaio/streamread"
)

// Metrics accumulates counters across a pool's lifetime, adapted from the
// teacher's metrics.go (atomic counters touched on the hot path, read by
// a caller at any time without locking).
type Metrics struct {
	acquires   atomic.Int64
	reclaims   atomic.Int64
	submits    atomic.Int64
	waits      atomic.Int64
	waitWakes  atomic.Int64
	ioErrors   atomic.Int64
	bbWaits    atomic.Int64
	regimeA    atomic.Int64 // distance-controller regime counters (C7)
	regimeB    atomic.Int64
	regimeC    atomic.Int64
	ungets     atomic.Int64
	coalesces  atomic.Int64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

// RecordStreamStats folds one streaming_read's regime/unget/coalesce
// counters into the pool-wide totals, so a caller running many streams
// against the same pool can see aggregate look-ahead behavior alongside
// the handle lifecycle counters.
func (m *Metrics) RecordStreamStats(s streamread.Stats) {
	m.regimeA.Add(int64(s.RegimeA))
	m.regimeB.Add(int64(s.RegimeB))
	m.regimeC.Add(int64(s.RegimeC))
	m.ungets.Add(int64(s.Ungets))
	m.coalesces.Add(int64(s.Coalesces))
}

// Snapshot is a point-in-time copy of a Metrics' counters.
type Snapshot struct {
	Acquires, Reclaims, Submits          int64
	Waits, WaitWakes, IOErrors, BBWaits  int64
	RegimeA, RegimeB, RegimeC            int64
	Ungets, Coalesces                    int64
}

// Snapshot reads all counters into a plain struct.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Acquires:  m.acquires.Load(),
		Reclaims:  m.reclaims.Load(),
		Submits:   m.submits.Load(),
		Waits:     m.waits.Load(),
		WaitWakes: m.waitWakes.Load(),
		IOErrors:  m.ioErrors.Load(),
		BBWaits:   m.bbWaits.Load(),
		RegimeA:   m.regimeA.Load(),
		RegimeB:   m.regimeB.Load(),
		RegimeC:   m.regimeC.Load(),
		Ungets:    m.ungets.Load(),
		Coalesces: m.coalesces.Load(),
	}
}
