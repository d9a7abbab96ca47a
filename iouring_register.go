//go:build iouring

package pgaio

import (
	"github.com/ehrlich-b/pgaio/internal/iouringmethod"
)

// handleAdapter satisfies iouringmethod's HandleLike interface without
// that package needing to import this one, keeping the dependency edge
// pgaio -> iouringmethod one-directional (this file imports it, behind
// the same build tag).
type handleAdapter struct{ h *Handle }

func (a handleAdapter) IOVecs() [][]byte {
	bufs := make([][]byte, len(a.h.iovecs))
	for i, iov := range a.h.iovecs {
		bufs[i] = iov.Base
	}
	return bufs
}

func (a handleAdapter) TargetFD() int       { return a.h.opData.FD }
func (a handleAdapter) TargetOffset() int64 { return a.h.opData.Offset }
func (a handleAdapter) IsWrite() bool       { return a.h.op == OpWrite }
func (a handleAdapter) UserData() uint64    { return uint64(a.h.index) }

func (a handleAdapter) SetRawResult(raw int64) {
	a.h.mu.Lock()
	a.h.result = raw
	a.h.mu.Unlock()
}

// iouringMethod adapts an *iouringmethod.Ring to the Method interface.
type iouringMethod struct {
	ring *iouringmethod.Ring
}

// NewIOURingMethod opens a real io_uring instance of the given submission
// queue depth as an alternate Method (spec §9 "architecture anticipates
// pluggable methods").
func NewIOURingMethod(entries uint32) (Method, error) {
	ring, err := iouringmethod.NewRing(entries)
	if err != nil {
		return nil, err
	}
	return &iouringMethod{ring: ring}, nil
}

func (m *iouringMethod) Name() string    { return m.ring.Name() }
func (m *iouringMethod) NeedsSync() bool { return m.ring.NeedsSync() }

func (m *iouringMethod) Submit(staged []*Handle) error {
	adapters := make([]iouringmethod.HandleLike, len(staged))
	for i, h := range staged {
		adapters[i] = handleAdapter{h: h}
	}
	if err := m.ring.SubmitBatch(adapters); err != nil {
		return err
	}
	m.ring.Reap(len(staged))
	return nil
}

func (m *iouringMethod) WaitOne(h *Handle) bool {
	m.ring.Reap(1)
	return true
}

func init() {
	RegisterMethod("iouring", func() Method {
		method, err := NewIOURingMethod(256)
		if err != nil {
			panic(err)
		}
		return method
	})
}
