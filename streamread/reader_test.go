package streamread

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sequentialCallback(n int) (Callback, *int) {
	next := 0
	return func(s *StreamingRead, userData interface{}, perBufferData *interface{}) BlockNumber {
		if next >= n {
			return InvalidBlockNumber
		}
		b := BlockNumber(next)
		next++
		return b
	}, &next
}

func TestSequentialFullyCached(t *testing.T) {
	bm := NewMockBufferManager()
	bm.Cached = func(BlockNumber) bool { return true }

	cb, _ := sequentialCallback(20)
	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 4,
		BufferIOSize:  8,
	})

	count := 0
	for {
		buf := s.Next(nil)
		if buf == InvalidBuffer {
			break
		}
		count++
	}
	s.End()

	require.Equal(t, 20, count)
	require.Zero(t, bm.WaitCalls, "fully cached scan should never wait on an I/O")
}

func TestSequentialUncachedRampsToBufferIOSize(t *testing.T) {
	bm := NewMockBufferManager()
	// Nothing is cached.

	cb, _ := sequentialCallback(200)
	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 4,
		BufferIOSize:  8,
	})

	count := 0
	maxDistance := 0
	for {
		buf := s.Next(nil)
		if buf == InvalidBuffer {
			break
		}
		count++
		if s.distance > maxDistance {
			maxDistance = s.distance
		}
	}
	s.End()

	require.Equal(t, 200, count)
	require.Equal(t, 0, bm.AdviceCalls, "sequential access should never carry advice")
	require.Equal(t, s.bufferIOSize, maxDistance, "distance should ramp up to and plateau at bufferIOSize for regime B")
}

func TestRandomUncachedRampsDistanceWithAdvice(t *testing.T) {
	bm := NewMockBufferManager()

	// Every other block, non-contiguous: forces a new pending read each
	// time and keeps triggering advice (regime C).
	blocks := []BlockNumber{0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22}
	i := 0
	cb := func(s *StreamingRead, userData interface{}, perBufferData *interface{}) BlockNumber {
		if i >= len(blocks) {
			return InvalidBlockNumber
		}
		b := blocks[i]
		i++
		return b
	}

	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 4,
		BufferIOSize:  8,
	})

	for {
		buf := s.Next(nil)
		if buf == InvalidBuffer {
			break
		}
	}
	s.End()

	require.Greater(t, bm.AdviceCalls, 0, "random access should issue advice")
	require.Greater(t, s.stats.RegimeC, 0)
}

func TestEndOfStreamReturnsInvalidBuffer(t *testing.T) {
	bm := NewMockBufferManager()
	cb, _ := sequentialCallback(3)
	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 2,
		BufferIOSize:  4,
	})

	for i := 0; i < 3; i++ {
		require.NotEqual(t, InvalidBuffer, s.Next(nil))
	}
	require.Equal(t, InvalidBuffer, s.Next(nil))
	s.End()
}

func TestCoalescingMergesContiguousBlocks(t *testing.T) {
	bm := NewMockBufferManager()
	cb, _ := sequentialCallback(16)
	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 4,
		BufferIOSize:  8,
	})

	for {
		if s.Next(nil) == InvalidBuffer {
			break
		}
	}
	s.End()

	require.Greater(t, s.stats.Coalesces, 0, "sequential blocks should coalesce into fewer, larger reads")
	require.Less(t, bm.StartCalls, 16, "coalesced reads should issue fewer StartReadBuffers calls than blocks")
}

func TestPerBufferDataRoundTrips(t *testing.T) {
	bm := NewMockBufferManager()
	bm.Cached = func(BlockNumber) bool { return true }
	next := 0
	cb := func(s *StreamingRead, userData interface{}, perBufferData *interface{}) BlockNumber {
		if next >= 5 {
			return InvalidBlockNumber
		}
		b := next
		next++
		if perBufferData != nil {
			*perBufferData = b * 10
		}
		return BlockNumber(b)
	}

	s := Begin(Config{
		Callback:          cb,
		BufferManager:     bm,
		IOConcurrency:     2,
		BufferIOSize:      4,
		PerBufferDataSize: 8,
	})

	var got []interface{}
	for {
		var data interface{}
		buf := s.Next(&data)
		if buf == InvalidBuffer {
			break
		}
		got = append(got, data)
	}
	s.End()

	require.Len(t, got, 5)
	require.Equal(t, 0, got[0])
	require.Equal(t, 40, got[4])
}

func TestGetAndUngetBlock(t *testing.T) {
	bm := NewMockBufferManager()
	cb, _ := sequentialCallback(1)
	s := Begin(Config{
		Callback:      cb,
		BufferManager: bm,
		IOConcurrency: 1,
		BufferIOSize:  4,
	})

	s.ungetBlock(BlockNumber(99))
	require.True(t, s.haveUngetBlocknum)
	got := s.getBlock(nil)
	require.Equal(t, BlockNumber(99), got)
	require.False(t, s.haveUngetBlocknum)
}
