package pgaio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStringsCoverAllEightStates(t *testing.T) {
	want := map[State]string{
		StateIdle:            "IDLE",
		StateHandedOut:       "HANDED_OUT",
		StateDefined:         "DEFINED",
		StatePrepared:        "PREPARED",
		StateInFlight:        "IN_FLIGHT",
		StateReaped:          "REAPED",
		StateCompletedShared: "COMPLETED_SHARED",
		StateCompletedLocal:  "COMPLETED_LOCAL",
	}
	for s, name := range want {
		require.Equal(t, name, s.String())
	}
}

func TestNewHandleStartsIdleAtGenerationOne(t *testing.T) {
	h := newHandle(3)
	require.Equal(t, StateIdle, h.State())
	require.Equal(t, uint64(1), h.Generation(), "generation zero is reserved, never appears while in use")
	require.Equal(t, 3, h.Index())
}

func TestSetStateRejectsInvalidTransition(t *testing.T) {
	h := newHandle(0)
	require.Panics(t, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// IDLE -> PREPARED skips HANDED_OUT/DEFINED: not in the allowed DAG.
		h.setState([]State{StateDefined}, StatePrepared, "test")
	}, "an impossible transition must be a contract violation, not silently accepted")
}

func TestBumpGenerationIncrementsAndNeverZero(t *testing.T) {
	h := newHandle(0)
	before := h.Generation()
	h.bumpGeneration()
	after := h.Generation()
	require.Greater(t, after, before, "generation must strictly increase across a reclaim (invariant I2)")
	require.NotZero(t, after)
}

func TestWasRecycledDetectsGenerationMismatch(t *testing.T) {
	h := newHandle(0)
	gen := h.Generation()
	require.False(t, wasRecycled(h, gen))

	h.bumpGeneration()
	require.True(t, wasRecycled(h, gen), "a stale generation must be reported as recycled (invariant I5)")
}

func TestMakeRefRoundTrips(t *testing.T) {
	h := newHandle(7)
	ref := h.MakeRef()
	require.True(t, ref.Valid())
	require.Equal(t, uint32(7), ref.Index)
	require.Equal(t, h.Generation(), ref.Generation)
}

func TestInvalidRefIsNeverValid(t *testing.T) {
	require.False(t, InvalidRef.Valid())
}
