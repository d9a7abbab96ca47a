package pgaio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, numBackends, perBackend int) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NumBackends = numBackends
	cfg.IOMaxConcurrency = perBackend
	cfg.IOBounceBuffers = numBackends * 4
	pool, err := NewPool(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func testFile(t *testing.T, contents string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pgaio-test-*")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// plainSubject is a subject with no reopen/error-reporting hooks, enough
// to satisfy prepOp's "non-invalid subject" precondition.
func registerPlainSubject(t *testing.T) SubjectKind {
	t.Helper()
	return RegisterSubject(&Subject{Name: "test"})
}

func TestAcquireReleaseCycleReturnsHandleToIdle(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	require.Equal(t, StateHandedOut, h.State())
	gen0 := h.Generation()

	m.Release(h)
	require.Equal(t, StateIdle, h.State())
	require.Greater(t, h.Generation(), gen0, "reclaim must bump generation (invariant I2)")
}

// P1: at most one HANDED_OUT, unprepared handle per backend at a time.
func TestSecondAcquireWithoutPrepareIsContractViolation(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	m.Acquire(nil, nil)
	require.Panics(t, func() {
		m.Acquire(nil, nil)
	}, "a second acquire before the first is prepared must be fatal (spec §4.1)")
}

func TestReleaseFromWrongStateIsContractViolation(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	m.Release(h)

	require.Panics(t, func() {
		m.Release(h)
	}, "releasing an already-IDLE handle must be a contract violation, not a silent no-op (P5: diagnostic, never corruption)")
}

func TestPrepReadvSyncExecutesImmediatelyAndCompletes(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "hello, pgaio")

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	SetSubject(h, subject, 0)

	buf := make([]byte, 5)
	m.PrepReadv(h, int(f.Fd()), []Iovec{{Base: buf}}, 0)

	// syncMethod drives completion inline: by the time PrepReadv returns,
	// the handle has already reached COMPLETED_SHARED.
	require.Equal(t, StateCompletedShared, h.State())
	require.Equal(t, "hello", string(buf))

	dr, ok := m.RefWait(h.MakeRef())
	require.True(t, ok)
	require.Equal(t, StatusOK, dr.Status)
	require.EqualValues(t, 5, dr.Result)
	require.Equal(t, StateCompletedLocal, h.State())

	m.Release(h)
	require.Equal(t, StateIdle, h.State())
}

func TestPrepReadvSurfacesIOErrorOnBadFD(t *testing.T) {
	subject := registerPlainSubject(t)

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	SetSubject(h, subject, 0)

	buf := make([]byte, 5)
	m.PrepReadv(h, -1, []Iovec{{Base: buf}}, 0)

	require.Equal(t, StateCompletedShared, h.State())
	dr := h.DistilledResult()
	require.Equal(t, StatusError, dr.Status)
	require.Error(t, dr.ErrorData)

	m.RefWait(h.MakeRef())
	m.Release(h)
}

func TestPrepOpWithoutSubjectIsContractViolation(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	buf := make([]byte, 5)
	require.Panics(t, func() {
		m.PrepReadv(h, 0, []Iovec{{Base: buf}}, 0)
	}, "prepOp requires a non-invalid subject (spec §4.3 preconditions)")
}

// P3: a stale reference must never observe a later operation's result.
func TestResolveRejectsRecycledReference(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	ref := h.MakeRef()
	m.Release(h)

	_, ok := m.Resolve(ref)
	require.False(t, ok, "a reference to a reclaimed-and-recycled handle must not resolve")

	_, ok = m.RefWait(ref)
	require.False(t, ok)
}

func TestReportReturnReceivesDistilledResultOnReclaim(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "0123456789")

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	var report DistilledResult
	h := m.Acquire(nil, &report)
	SetSubject(h, subject, 0)

	buf := make([]byte, 4)
	m.PrepReadv(h, int(f.Fd()), []Iovec{{Base: buf}}, 2)
	m.RefWait(h.MakeRef())
	m.Release(h)

	require.Equal(t, StatusOK, report.Status)
	require.EqualValues(t, 4, report.Result)
	require.Equal(t, "2345", string(buf))
}

func TestIssuerCallbackRunsOnReclaim(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "abcdef")

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	SetSubject(h, subject, 0)

	called := false
	SetIssuerCallback(h, func(h *Handle, result DistilledResult) {
		called = true
		require.Equal(t, StatusOK, result.Status)
	})

	buf := make([]byte, 3)
	m.PrepReadv(h, int(f.Fd()), []Iovec{{Base: buf}}, 0)
	m.RefWait(h.MakeRef())
	m.Release(h)

	require.True(t, called, "the issuer callback must run during reclaim (spec §4.4)")
}

func TestSharedCallbackChainRunsInReverseRegistrationOrder(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "xyz")

	var order []string
	first := RegisterSharedCallback(&SharedCallback{
		Name: "first",
		Prepare: func(h *Handle) {
			order = append(order, "prepare:first")
		},
		Complete: func(h *Handle, r DistilledResult) DistilledResult {
			order = append(order, "complete:first")
			return r
		},
	})
	second := RegisterSharedCallback(&SharedCallback{
		Name: "second",
		Prepare: func(h *Handle) {
			order = append(order, "prepare:second")
		},
		Complete: func(h *Handle, r DistilledResult) DistilledResult {
			order = append(order, "complete:second")
			return r
		},
	})

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	SetSubject(h, subject, 0)
	AddSharedCallback(h, first)
	AddSharedCallback(h, second)

	buf := make([]byte, 3)
	m.PrepReadv(h, int(f.Fd()), []Iovec{{Base: buf}}, 0)
	m.RefWait(h.MakeRef())
	m.Release(h)

	require.Equal(t, []string{
		"prepare:second", "prepare:first",
		"complete:second", "complete:first",
	}, order, "both prepare and completion run latest-registered first (spec §4.4)")
}

func TestResourceOwnerReleaseAllReclaimsHandedOutHandle(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	ro := NewResourceOwner()
	h := m.Acquire(ro, nil)
	require.Equal(t, StateHandedOut, h.State())

	ro.ReleaseAll(m, false)
	require.Equal(t, StateIdle, h.State())
}

func TestResourceOwnerReleaseAllReclaimsCompletedHandle(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "abcdefgh")

	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	ro := NewResourceOwner()
	h := m.Acquire(ro, nil)
	SetSubject(h, subject, 0)

	buf := make([]byte, 4)
	m.PrepReadv(h, int(f.Fd()), []Iovec{{Base: buf}}, 0)
	require.Equal(t, StateCompletedShared, h.State())

	ro.ReleaseAll(m, false)
	require.Equal(t, StateIdle, h.State())
}

func TestAcquireBlocksUntilAPriorHandleIsReclaimed(t *testing.T) {
	subject := registerPlainSubject(t)
	f := testFile(t, "abcdefgh")

	pool := testPool(t, 1, 1) // exactly one handle for this backend
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h1 := m.Acquire(nil, nil)
	SetSubject(h1, subject, 0)
	buf := make([]byte, 4)
	m.PrepReadv(h1, int(f.Fd()), []Iovec{{Base: buf}}, 0)
	// h1 is now COMPLETED_SHARED but not yet reclaimed.

	done := make(chan *Handle, 1)
	go func() {
		done <- m.Acquire(nil, nil)
	}()

	h2 := <-done
	require.Same(t, h1, h2, "with only one handle in this backend's partition, the contention path must reclaim and reuse it")
	m.Release(h2)
}

func TestCrossManagerResolveSharesGenerationSpace(t *testing.T) {
	pool := testPool(t, 2, 4)
	mgrA, err := NewManager(pool, 0)
	require.NoError(t, err)
	mgrB, err := NewManager(pool, 1)
	require.NoError(t, err)

	h := mgrA.Acquire(nil, nil)
	ref := h.MakeRef()

	// A handle belongs to a dense, globally addressable pool: any
	// manager can resolve a live reference to it (spec §4.1 "any backend
	// can address any handle by integer index"), even though only the
	// owner may act on it.
	resolved, ok := mgrB.Resolve(ref)
	require.True(t, ok)
	require.Same(t, h, resolved)

	mgrA.Release(h)
}
