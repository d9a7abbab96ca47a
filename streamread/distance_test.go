package streamread

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStream(bufferIOSize, maxPinned int) *StreamingRead {
	return &StreamingRead{
		bufferIOSize:     bufferIOSize,
		maxPinnedBuffers: maxPinned,
		distance:         1,
	}
}

func TestOnReadServedFromCacheDecaysToOne(t *testing.T) {
	s := newTestStream(8, 32)
	s.distance = 4
	s.onReadServedFromCache()
	require.Equal(t, 3, s.distance)
	require.Equal(t, 1, s.stats.RegimeA)

	s.distance = 1
	s.onReadServedFromCache()
	require.Equal(t, 1, s.distance, "distance should never decay below 1")
}

func TestOnIOCompletedWithAdviceDoublesUpToPinLimit(t *testing.T) {
	s := newTestStream(8, 10)
	s.distance = 3
	s.onIOCompleted(true)
	require.Equal(t, 6, s.distance)
	require.Equal(t, 1, s.stats.RegimeC)

	s.distance = 8
	s.onIOCompleted(true)
	require.Equal(t, 10, s.distance, "distance should cap at maxPinnedBuffers")
}

func TestOnIOCompletedWithoutAdvicePlateausAtBufferIOSize(t *testing.T) {
	s := newTestStream(8, 32)
	s.distance = 2
	s.onIOCompleted(false)
	require.Equal(t, 4, s.distance)
	require.Equal(t, 1, s.stats.RegimeB)

	s.distance = 9
	s.onIOCompleted(false)
	require.Equal(t, 8, s.distance, "above bufferIOSize, distance should creep down by one")
}

func TestDecideAdvice(t *testing.T) {
	s := newTestStream(8, 32)
	s.adviceEnabled = true
	s.pendingReadBlocknum = 10
	s.seqBlocknum = 5
	require.True(t, s.decideAdvice(), "non-sequential access with advice enabled should get advice")

	s.seqBlocknum = 10
	require.False(t, s.decideAdvice(), "sequential continuation should suppress advice")

	s.adviceEnabled = false
	s.seqBlocknum = 5
	require.False(t, s.decideAdvice(), "advice disabled overrides everything")
}
