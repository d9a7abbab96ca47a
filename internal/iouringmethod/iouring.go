//go:build iouring

// Package iouringmethod implements the AIO core's Method interface on
// top of a real io_uring instance. Not part of the default build: the
// default method is the synchronous one in method.go. Built with
// -tags iouring, grounded on the dependency actually declared in
// go.mod (github.com/pawelgaczynski/giouring), whose SQE-preparation and
// CQE-draining calls are exercised below the same way
// other_examples/6f76b9ed_ianic-xnet__aio-loop.go.go uses them for a
// network event loop.
package iouringmethod

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// HandleLike is the minimal surface this package needs from pgaio.Handle
// without importing the root package (which would create an import
// cycle, since the root package imports this one behind the build tag to
// register it). The root package's iouring_register.go wraps each
// *pgaio.Handle in a small adapter implementing this interface instead of
// this package importing pgaio directly, keeping the dependency edge
// one-directional.
type HandleLike interface {
	IOVecs() [][]byte
	TargetFD() int
	TargetOffset() int64
	IsWrite() bool
	SetRawResult(int64)
	UserData() uint64
}

// Ring wraps a giouring.Ring with the bookkeeping this method needs:
// pending user-data-to-handle lookups and a free SQE count check before
// submission.
type Ring struct {
	mu     sync.Mutex
	ring   *giouring.Ring
	nextID uint64
	byID   map[uint64]HandleLike
}

// NewRing creates an io_uring instance with entries submission queue
// slots.
func NewRing(entries uint32) (*Ring, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("iouringmethod: CreateRing: %w", err)
	}
	return &Ring{ring: ring, byID: map[uint64]HandleLike{}}, nil
}

// Close tears down the ring.
func (r *Ring) Close() error {
	r.ring.QueueExit()
	return nil
}

// Name identifies this method.
func (r *Ring) Name() string { return "iouring" }

// NeedsSync is false: operations are staged via Submit and completed
// asynchronously through the completion queue.
func (r *Ring) NeedsSync() bool { return false }

// SubmitBatch prepares an SQE for each handle and submits the batch,
// without waiting for completion. Callers drain completions separately
// via Reap.
func (r *Ring) SubmitBatch(handles []HandleLike) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range handles {
		sqe := r.ring.GetSQE()
		if sqe == nil {
			if _, err := r.ring.Submit(); err != nil {
				return fmt.Errorf("iouringmethod: Submit while draining SQEs: %w", err)
			}
			sqe = r.ring.GetSQE()
			if sqe == nil {
				return fmt.Errorf("iouringmethod: no SQE available after drain")
			}
		}

		r.nextID++
		id := r.nextID
		r.byID[id] = h

		iovecs := toSyscallIovecs(h.IOVecs())
		ptr := uintptr(unsafe.Pointer(&iovecs[0]))
		if h.IsWrite() {
			sqe.PrepareWritev(h.TargetFD(), ptr, uint32(len(iovecs)), uint64(h.TargetOffset()))
		} else {
			sqe.PrepareReadv(h.TargetFD(), ptr, uint32(len(iovecs)), uint64(h.TargetOffset()))
		}
		sqe.UserData = id
	}

	_, err := r.ring.Submit()
	if err != nil {
		return fmt.Errorf("iouringmethod: Submit: %w", err)
	}
	return nil
}

// toSyscallIovecs builds the []syscall.Iovec giouring's Prepare{Readv,Writev}
// expect, pointing at the same backing arrays as bufs (no copy).
func toSyscallIovecs(bufs [][]byte) []syscall.Iovec {
	iovecs := make([]syscall.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iovecs[i].Base = &b[0]
		iovecs[i].SetLen(len(b))
	}
	return iovecs
}

// Reap drains completed CQEs and dispatches their raw result back to the
// originating handle. Returns the number of completions processed.
func (r *Ring) Reap(maxBatch int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cqes := make([]*giouring.CompletionQueueEvent, maxBatch)
	peeked := r.ring.PeekBatchCQE(cqes)
	for _, cqe := range cqes[:peeked] {
		h, ok := r.byID[cqe.UserData]
		if !ok {
			continue
		}
		delete(r.byID, cqe.UserData)
		h.SetRawResult(int64(cqe.Res))
	}
	r.ring.CQAdvance(peeked)
	return int(peeked)
}
