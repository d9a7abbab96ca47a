package pgaio

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/ehrlich-b/pgaio/internal/constants"
	"github.com/ehrlich-b/pgaio/internal/shmem"
	"github.com/ehrlich-b/pgaio/internal/trap"
)

// Config mirrors the teacher's DeviceParams/DefaultDeviceParams shape,
// adapted to the AIO core's configuration surface (spec §6).
type Config struct {
	// IOMethod selects the pluggable I/O method. Only "sync" ships in
	// this tree by default; "iouring" is available when built with
	// -tags iouring (internal/iouringmethod).
	IOMethod string

	// IOMaxConcurrency is the per-backend handle count.
	IOMaxConcurrency int

	// IOBounceBuffers is the global bounce-buffer count, partitioned
	// evenly across NumBackends (spec §9 AFIXME OQ2: resolved as
	// per-backend free lists, conservative).
	IOBounceBuffers int

	// EffectiveIOConcurrency is effective_io_concurrency. The streaming
	// reader does not read this field: each stream takes its concurrency
	// from streamread.Config.IOConcurrency, set by the caller.
	EffectiveIOConcurrency int

	// BufferIOSize is the combine limit (io_combine_limit), captured
	// into the control block once at NewPool time (spec §9 AFIXME OQ4).
	BufferIOSize int

	// IODirectFlags records whether direct I/O is in effect. Nothing in
	// this repository reads it: streamread.Begin enables advice from its
	// own Flags and IOConcurrency only, so direct I/O does not suppress
	// advice.
	IODirectFlags bool

	// NumBackends bounds how many per-backend handle/bounce-buffer
	// partitions the pool carves out. A backend's procno must be in
	// [0, NumBackends).
	NumBackends int

	// NormalIOConcurrency/MaintenanceIOConcurrency are tablespace-level
	// overrides for effective_io_concurrency (spec §6).
	NormalIOConcurrency      int
	MaintenanceIOConcurrency int
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// DefaultDeviceParams constructor.
func DefaultConfig() Config {
	return Config{
		IOMethod:                 "sync",
		IOMaxConcurrency:         constants.DefaultIOMaxConcurrency,
		IOBounceBuffers:          constants.DefaultIOBounceBuffers,
		EffectiveIOConcurrency:   constants.DefaultEffectiveIOConcurrency,
		BufferIOSize:             constants.DefaultBufferIOSize,
		IODirectFlags:            false,
		NumBackends:              1,
		NormalIOConcurrency:      constants.DefaultEffectiveIOConcurrency,
		MaintenanceIOConcurrency: constants.DefaultEffectiveIOConcurrency,
	}
}

// Pool is the shared control block plus the dense handle array (C1): one
// per process group, addressable by any backend via integer index.
type Pool struct {
	cfg    Config
	cb     *shmem.ControlBlock
	method Method

	handles       []*Handle
	numPerBackend int

	bbPerBackend int

	metrics *Metrics

	mu sync.Mutex
}

// NewPool allocates the shared control block and the dense handle array.
func NewPool(cfg Config, metrics *Metrics) (*Pool, error) {
	if cfg.NumBackends <= 0 {
		return nil, fmt.Errorf("pgaio: NumBackends must be > 0")
	}
	if cfg.IOMaxConcurrency <= 0 {
		return nil, fmt.Errorf("pgaio: IOMaxConcurrency must be > 0")
	}

	var method Method
	switch cfg.IOMethod {
	case "", "sync":
		method = NewSyncMethod()
	default:
		m, err := resolveMethod(cfg.IOMethod)
		if err != nil {
			return nil, err
		}
		method = m
	}

	cb, err := shmem.NewControlBlock(cfg.IOBounceBuffers, constants.BounceBufferSize, cfg.BufferIOSize)
	if err != nil {
		return nil, err
	}

	total := cfg.NumBackends * cfg.IOMaxConcurrency
	handles := make([]*Handle, total)
	for i := range handles {
		handles[i] = newHandle(i)
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Pool{
		cfg:           cfg,
		cb:            cb,
		method:        method,
		handles:       handles,
		numPerBackend: cfg.IOMaxConcurrency,
		bbPerBackend:  cfg.IOBounceBuffers / cfg.NumBackends,
		metrics:       metrics,
	}, nil
}

// Close releases the shared control block's memory.
func (p *Pool) Close() error {
	return p.cb.Close()
}

// Metrics returns the pool-wide metrics.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// Handle returns the handle at a given global index, for cross-backend
// addressing (e.g. Manager.Resolve).
func (p *Pool) Handle(index int) *Handle {
	if index < 0 || index >= len(p.handles) {
		return nil
	}
	return p.handles[index]
}

// Manager is one backend's view of the pool (spec §3 "Per-backend view"):
// its own idle lists, submission batch, and at-most-one-outstanding
// hand-out slots.
type Manager struct {
	pool   *Pool
	procno int32

	handleOff int // io_handle_off: base index into the global handle array
	bbOff     int

	idleIOs *list.List // doubly-linked list of *Handle, all IDLE (invariant I3)
	idleBBs []int      // free bounce-buffer slots owned by this backend

	stagedIOs []*Handle

	handedOutIO *Handle
	handedOutBB int // -1 if none

	idleCursor int // remembered round-robin cursor for wait_for_free
}

// NewManager creates procno's per-backend view over pool. procno must be
// in [0, pool.cfg.NumBackends).
func NewManager(pool *Pool, procno int32) (*Manager, error) {
	if procno < 0 || int(procno) >= pool.cfg.NumBackends {
		return nil, fmt.Errorf("pgaio: procno %d out of range [0,%d)", procno, pool.cfg.NumBackends)
	}

	off := int(procno) * pool.numPerBackend
	m := &Manager{
		pool:        pool,
		procno:      procno,
		handleOff:   off,
		bbOff:       int(procno) * pool.bbPerBackend,
		idleIOs:     list.New(),
		handedOutBB: -1,
	}

	for i := off; i < off+pool.numPerBackend; i++ {
		m.idleIOs.PushBack(pool.handles[i])
	}
	for s := m.bbOff; s < m.bbOff+pool.bbPerBackend; s++ {
		m.idleBBs = append(m.idleBBs, s)
	}

	return m, nil
}

// Procno returns this manager's backend identity.
func (m *Manager) Procno() int32 { return m.procno }

// Pool returns the shared pool this manager is a view of.
func (m *Manager) Pool() *Pool { return m.pool }

// handleRange returns [start, end) of handle indices this backend owns.
func (m *Manager) handleRange() (int, int) {
	return m.handleOff, m.handleOff + m.pool.numPerBackend
}

// Resolve looks up ref's target handle, returning ok=false if the slot no
// longer belongs to this reference's generation (invariant I5).
func (m *Manager) Resolve(ref Ref) (*Handle, bool) {
	if !ref.Valid() {
		return nil, false
	}
	h := m.pool.Handle(int(ref.Index))
	if h == nil || wasRecycled(h, ref.Generation) {
		return nil, false
	}
	return h, true
}

// Acquire pops an idle handle owned by this backend, blocking if none are
// available. At most one handle may be handed out without being prepared
// (invariant I4); a second Acquire without an intervening prep-* call is
// a contract violation.
func (m *Manager) Acquire(owner *ResourceOwner, report *DistilledResult) *Handle {
	trap.Assert(m.handedOutIO == nil, "backend %d: Acquire with an unprepared handed-out handle", m.procno)

	h := m.popIdle()
	if h == nil {
		h = m.waitForFree()
		m.takeFromIdle(h)
	}

	h.mu.Lock()
	h.ownerProcno = m.procno
	h.reaperProcno = m.procno
	h.reportReturn = report
	h.setState([]State{StateIdle}, StateHandedOut, "Acquire")
	h.mu.Unlock()

	if owner != nil {
		owner.remember(h)
	}

	m.handedOutIO = h
	m.pool.metrics.acquires.Add(1)
	return h
}

// AcquireNB is the non-blocking variant of Acquire: returns nil instead
// of blocking when no idle handle is immediately available.
func (m *Manager) AcquireNB(owner *ResourceOwner, report *DistilledResult) *Handle {
	trap.Assert(m.handedOutIO == nil, "backend %d: AcquireNB with an unprepared handed-out handle", m.procno)

	h := m.popIdle()
	if h == nil {
		h = m.reclaimCompletedInRange()
		if h == nil {
			return nil
		}
		m.takeFromIdle(h)
	}

	h.mu.Lock()
	h.ownerProcno = m.procno
	h.reaperProcno = m.procno
	h.reportReturn = report
	h.setState([]State{StateIdle}, StateHandedOut, "AcquireNB")
	h.mu.Unlock()

	if owner != nil {
		owner.remember(h)
	}

	m.handedOutIO = h
	m.pool.metrics.acquires.Add(1)
	return h
}

func (m *Manager) popIdle() *Handle {
	front := m.idleIOs.Front()
	if front == nil {
		return nil
	}
	m.idleIOs.Remove(front)
	return front.Value.(*Handle)
}

func (m *Manager) pushIdle(h *Handle) {
	m.idleIOs.PushBack(h)
}

// takeFromIdle removes h from the idle list if present. waitForFree and
// reclaimCompletedInRange hand back a handle that reclaim() already pushed
// onto idleIOs; Acquire/AcquireNB are about to hand it straight back out,
// so it must not linger in the idle list as well (invariant I3: a handle
// is either idle or owned, never both).
func (m *Manager) takeFromIdle(h *Handle) {
	for e := m.idleIOs.Front(); e != nil; e = e.Next() {
		if e.Value.(*Handle) == h {
			m.idleIOs.Remove(e)
			return
		}
	}
}

// Release reclaims h. Valid while h is HANDED_OUT (never submitted) or
// COMPLETED_LOCAL (submitted, and this backend has already observed its
// completion via RefWait/RefCheckDone) (spec §4.1/§4.6).
func (m *Manager) Release(h *Handle) {
	st := h.State()
	trap.Assert(st == StateHandedOut || st == StateCompletedLocal,
		"handle %d: Release from state %s", h.index, st)
	m.reclaim(h)
}

// reclaim runs the issuer callback, publishes the distilled result to
// report_return, clears the handle, bumps its generation, and returns it
// to this backend's idle list (invariant I3).
func (m *Manager) reclaim(h *Handle) {
	trap.Assert(h.ownerProcno == m.procno, "handle %d: reclaim by non-owner backend %d", h.index, m.procno)

	if h.issuerCallback != nil {
		h.issuerCallback(h, h.distilledResult)
	}
	if h.reportReturn != nil {
		*h.reportReturn = h.distilledResult
	}

	if h.resOwner != nil {
		h.resOwner.forget(h)
	}

	h.mu.Lock()
	cur := h.State()
	if cur != StateHandedOut && cur != StateCompletedLocal {
		h.mu.Unlock()
		trap.Assert(false, "handle %d: reclaim from unexpected state %s", h.index, cur)
		return
	}
	h.op = OpInvalid
	h.opData = OpData{}
	h.subject = SubjectInvalid
	h.scbData = 0
	h.numSharedCallbacks = 0
	h.iovecs = nil
	h.result = 0
	h.distilledResult = DistilledResult{}
	h.reportReturn = nil
	h.issuerCallback = nil
	h.flags = 0
	h.ownerProcno = -1
	h.reaperProcno = -1

	m.releaseBounceBuffers(h)

	h.setState([]State{StateHandedOut, StateCompletedLocal}, StateIdle, "reclaim")
	h.bumpGeneration()
	h.mu.Unlock()

	m.pushIdle(h)
	if m.handedOutIO == h {
		m.handedOutIO = nil
	}
	m.pool.metrics.reclaims.Add(1)
}

func resolveMethod(name string) (Method, error) {
	if m := externalMethods[name]; m != nil {
		return m(), nil
	}
	return nil, fmt.Errorf("pgaio: unknown io_method %q", name)
}

// externalMethods lets build-tag-gated packages (internal/iouringmethod)
// register themselves without this package importing them directly.
var externalMethods = map[string]func() Method{}

// RegisterMethod lets an alternate Method implementation make itself
// selectable via Config.IOMethod.
func RegisterMethod(name string, factory func() Method) {
	externalMethods[name] = factory
}
