// Package pgaio implements an asynchronous I/O submission subsystem: a
// fixed pool of shared AIO handles moving through an 8-state lifecycle,
// generation-tagged references that detect reuse, subject-driven prepare
// and completion callbacks, submission batching, and cross-"process"
// waiting. See SPEC_FULL.md for the full design; DESIGN.md for how each
// piece is grounded in the teacher repo.
package pgaio

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/pgaio/internal/constants"
)

// Op identifies the kind of operation a handle carries.
type Op int32

const (
	OpInvalid Op = iota
	OpRead
	OpWrite
	OpFsync
	OpFlushRange
	OpNop
)

func (o Op) String() string {
	switch o {
	case OpInvalid:
		return "INVALID"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFsync:
		return "FSYNC"
	case OpFlushRange:
		return "FLUSH_RANGE"
	case OpNop:
		return "NOP"
	default:
		return "UNKNOWN"
	}
}

// OpData is the tagged payload for READ/WRITE operations (fd, offset,
// total iovec length in bytes).
type OpData struct {
	FD        int
	Offset    int64
	IOVLength int
}

// Status is the high-level outcome carried in a DistilledResult.
type Status int32

const (
	StatusUnknown Status = iota
	StatusOK
	StatusError
)

// DistilledResult is what shared callbacks produce from the raw syscall
// result: {status, id, error_data, result}.
type DistilledResult struct {
	Status    Status
	ID        uint64
	ErrorData error
	Result    int64
}

// Iovec is one gather/scatter segment: a pointer into a caller-owned
// buffer plus the caller-opaque per-segment metadata the spec calls
// iovec_data (e.g. a buffer identifier the buffer-pool subject attaches).
type Iovec struct {
	Base []byte
	Data uint64
}

// BounceBuffer is one scratch page, singly linked onto a handle once
// associated (spec §4.8).
type BounceBuffer struct {
	Slot int
	Next *BounceBuffer
}

// Handle is a reusable record in the pool's dense handle array,
// representing one asynchronous I/O in flight or in preparation. Handles
// live in ordinary process memory, not in the internal/shmem arena, so
// they are shared between Managers of one process but not across a
// fork(). A handle is owned by exactly one
// backend between acquire and reclaim (invariant I4); its Generation is
// bumped exactly once per reclaim (invariant I2) so a Ref can detect reuse.
type Handle struct {
	index int

	stateVal  atomic.Int32
	generation atomic.Uint64

	mu sync.Mutex
	cv *sync.Cond

	ownerProcno  int32
	reaperProcno int32

	op     Op
	opData OpData

	subject SubjectKind
	scbData uint64

	sharedCallbacks    [constants.AIOMaxSharedCallbacks]CallbackID
	numSharedCallbacks int

	iovecs []Iovec

	result          int64
	distilledResult DistilledResult

	bounceBuffers *BounceBuffer

	resOwner     *ResourceOwner
	resOwnerNode *resOwnerNode

	reportReturn *DistilledResult

	// issuerCallback runs inside Reclaim on the owning backend; it may
	// mutate issuer-local state (spec §4.4). Exactly one per handle
	// (spec §9 AFIXME OQ1, resolved conservatively).
	issuerCallback func(h *Handle, result DistilledResult)

	flags uint32
}

func newHandle(index int) *Handle {
	h := &Handle{index: index}
	h.cv = sync.NewCond(&h.mu)
	// generation starts at 1: the spec reserves zero as "never appears
	// while in use", so slot i's first life begins already at generation 1.
	h.generation.Store(1)
	return h
}

// Index returns this handle's position in the dense pool array.
func (h *Handle) Index() int { return h.index }

// Generation returns the current generation counter with a read barrier,
// per invariant I2/I5.
func (h *Handle) Generation() uint64 {
	barrierRead()
	return h.generation.Load()
}

// OwnerProcno returns the identity of the backend that acquired this
// handle. Immutable between acquire and reclaim.
func (h *Handle) OwnerProcno() int32 { return h.ownerProcno }

// Op returns the operation this handle currently carries.
func (h *Handle) Op() Op { return h.op }

// OpData returns the fd/offset/length payload for READ/WRITE.
func (h *Handle) OpData() OpData { return h.opData }

// Result returns the raw signed syscall return value (negative errno on
// failure).
func (h *Handle) Result() int64 { return h.result }

// DistilledResult returns the callback-distilled result, valid once the
// handle has reached COMPLETED_SHARED or COMPLETED_LOCAL.
func (h *Handle) DistilledResult() DistilledResult { return h.distilledResult }

// Ref is a small, copyable, weak back-pointer to a handle: {aio_index,
// generation}. It never owns the handle it names. The spec packs this
// into a 64-bit struct of {aio_index, generation_upper, generation_lower}
// for C struct-layout reasons that don't apply to a Go value type; the
// same two logical fields are kept here.
type Ref struct {
	Index      uint32
	Generation uint64
}

// InvalidIndex is the sentinel aio_index meaning "no handle".
const InvalidIndex = ^uint32(0)

// InvalidRef is the zero-value-safe invalid reference.
var InvalidRef = Ref{Index: InvalidIndex}

// Valid reports whether r names a handle at all (does not check
// recycling — a Manager is required for that, since it owns the handle
// array).
func (r Ref) Valid() bool { return r.Index != InvalidIndex }
