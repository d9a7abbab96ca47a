package pgaio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeAsyncMethod is a Method that stages handles without completing them
// itself, so a test can simulate a separate reaping "process" the way
// spec §8 scenario 6 describes (Backend A stages, Backend B reaps).
type fakeAsyncMethod struct {
	mu      sync.Mutex
	batches [][]*Handle
}

func (f *fakeAsyncMethod) Name() string    { return "fakeasync-test" }
func (f *fakeAsyncMethod) NeedsSync() bool { return false }

func (f *fakeAsyncMethod) Submit(staged []*Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]*Handle{}, staged...))
	return nil
}

func (f *fakeAsyncMethod) WaitOne(h *Handle) bool { return false }

// TestCrossProcessCompletionScenario exercises spec §8 scenario 6:
// backend A acquires, prepares, and stages a READ; backend B (a distinct
// *Manager sharing the same Pool) observes IN_FLIGHT, reaps the syscall,
// runs shared callbacks, and publishes COMPLETED_SHARED; backend A, blocked
// in RefWait, wakes, reclaims, and gets back the distilled result.
func TestCrossProcessCompletionScenario(t *testing.T) {
	subject := registerPlainSubject(t)

	fake := &fakeAsyncMethod{}
	RegisterMethod("fakeasync-test", func() Method { return fake })

	cfg := DefaultConfig()
	cfg.IOMethod = "fakeasync-test"
	cfg.NumBackends = 2
	cfg.IOMaxConcurrency = 4
	pool, err := NewPool(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	mgrA, err := NewManager(pool, 0)
	require.NoError(t, err)
	mgrB, err := NewManager(pool, 1)
	require.NoError(t, err)

	h := mgrA.Acquire(nil, nil)
	SetSubject(h, subject, 0)

	buf := make([]byte, 4)
	mgrA.PrepReadv(h, 0, []Iovec{{Base: buf}}, 0)
	require.Equal(t, StatePrepared, h.State(), "a non-NeedsSync method must stage, not execute inline")

	mgrA.SubmitStaged()
	require.Equal(t, StateInFlight, h.State())

	// RefWait's state-check and cv.Wait happen atomically under h.mu, so
	// there is no missed-wakeup window to race against here: whichever of
	// RefWait or the reap below reaches h.mu first, the other still
	// observes a consistent state.
	waitDone := make(chan struct{})
	go func() {
		dr, ok := mgrA.RefWait(h.MakeRef())
		require.True(t, ok)
		require.Equal(t, StatusOK, dr.Status)
		require.EqualValues(t, 4, dr.Result)
		close(waitDone)
	}()

	h.mu.Lock()
	h.result = 4
	h.reaperProcno = mgrB.procno
	h.setState([]State{StateInFlight}, StateReaped, "test-reap")
	h.mu.Unlock()

	mgrB.processCompletion(h)

	<-waitDone
	require.Equal(t, StateCompletedLocal, h.State())

	mgrA.Release(h)
	require.Equal(t, StateIdle, h.State())
}

func TestSubmitStagedIsNoOpWithNothingStaged(t *testing.T) {
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)
	m.SubmitStaged() // must not panic
}

func TestRefCheckDoneIsNonBlocking(t *testing.T) {
	subject := registerPlainSubject(t)
	pool := testPool(t, 1, 4)
	m, err := NewManager(pool, 0)
	require.NoError(t, err)

	h := m.Acquire(nil, nil)
	SetSubject(h, subject, 0)
	ref := h.MakeRef()

	_, ok := m.RefCheckDone(ref)
	require.False(t, ok, "a handle still HANDED_OUT has not completed")

	buf := make([]byte, 1)
	m.PrepReadv(h, -1, []Iovec{{Base: buf}}, 0) // bad fd, fails fast but still completes

	dr, ok := m.RefCheckDone(ref)
	require.True(t, ok)
	require.Equal(t, StatusError, dr.Status)

	m.Release(h)
}
