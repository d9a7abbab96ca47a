package streamread

import "github.com/ehrlich-b/pgaio/internal/trap"

// Config describes one streaming read: what relation/fork to read, how to
// generate the block sequence, and the tuning knobs the original exposes
// through GUCs (effective_io_concurrency, io_combine_limit) but which
// here are passed explicitly since there is no global configuration
// state in this package.
type Config struct {
	Flags    Flags
	Rel      BufferManagerRelation
	ForkNum  ForkNumber
	Strategy interface{}

	BufferManager BufferManager

	Callback             Callback
	CallbackPrivateData  interface{}
	PerBufferDataSize    int

	// IOConcurrency is effective_io_concurrency (or the maintenance
	// variant, chosen by the caller before building Config) for this
	// relation's tablespace.
	IOConcurrency int

	// BufferIOSize is io_combine_limit: the largest single read the
	// stream will ever form.
	BufferIOSize int
}

// StreamingRead is an open look-ahead read sequence over one relation
// fork. Not safe for concurrent use: a stream has exactly one consumer,
// matching the original's per-backend, single-threaded usage.
type StreamingRead struct {
	bm BufferManager

	maxIOs           int
	iosInProgress    int
	maxPinnedBuffers int
	pinnedBuffers    int
	distance         int
	adviceEnabled    bool

	haveUngetBlocknum bool
	ungetBlocknum     BlockNumber

	callback            Callback
	callbackPrivateData interface{}

	seqBlocknum BlockNumber

	pendingReadBlocknum BlockNumber
	pendingReadNblocks  int

	bufferIOSize int

	nextIOIndex       int
	oldestBufferIndex int
	nextBufferIndex   int

	buffers           []Buffer
	perBufferData     []interface{}
	hasPerBufferData  bool
	bufferIOIndexes   []int
	ios               []*ReadBuffersOperation

	stats Stats
}

// Begin opens a new streaming read. rel, forkNum and strategy are fixed
// for the stream's lifetime and baked into each pre-allocated
// ReadBuffersOperation, mirroring the original's streaming_read_buffer_begin;
// flags are read here, once, to set up advice and the initial distance.
func Begin(cfg Config) *StreamingRead {
	maxIOs := cfg.IOConcurrency
	bufferIOSize := cfg.BufferIOSize
	if bufferIOSize <= 0 {
		bufferIOSize = 1
	}

	maxPinnedBuffers := maxIOs * 4
	if maxPinnedBuffers < bufferIOSize {
		maxPinnedBuffers = bufferIOSize
	}

	if cfg.Rel.IsTemp {
		cfg.BufferManager.LimitAdditionalLocalPins(&maxPinnedBuffers)
	} else {
		cfg.BufferManager.LimitAdditionalPins(&maxPinnedBuffers)
	}
	trap.Assert(maxPinnedBuffers > 0, "streamread: LimitAdditionalPins left no pinnable buffers")

	adviceEnabled := cfg.Flags&FlagSequential == 0 && maxIOs > 0

	if maxIOs == 0 {
		maxIOs = 1
	}

	s := &StreamingRead{
		bm:               cfg.BufferManager,
		maxIOs:           maxIOs,
		maxPinnedBuffers: maxPinnedBuffers,
		adviceEnabled:    adviceEnabled,
		callback:         cfg.Callback,
		callbackPrivateData: cfg.CallbackPrivateData,
		bufferIOSize:     bufferIOSize,
		hasPerBufferData: cfg.PerBufferDataSize > 0,
	}

	if cfg.Flags&FlagFull != 0 {
		s.distance = bufferIOSize
	} else {
		s.distance = 1
	}

	// Extra bufferIOSize-1 slots let a single contiguous read run past the
	// logical end of the ring without wrapping mid-read; the overflow is
	// copied back to the front in startPendingRead.
	total := maxPinnedBuffers + bufferIOSize - 1
	s.buffers = make([]Buffer, total)
	if s.hasPerBufferData {
		s.perBufferData = make([]interface{}, total)
	}

	s.bufferIOIndexes = make([]int, maxPinnedBuffers)
	for i := range s.bufferIOIndexes {
		s.bufferIOIndexes[i] = -1
	}

	s.ios = make([]*ReadBuffersOperation, maxIOs)
	for i := range s.ios {
		s.ios[i] = &ReadBuffersOperation{
			Rel:      cfg.Rel,
			ForkNum:  cfg.ForkNum,
			Strategy: cfg.Strategy,
		}
	}

	return s
}

// Stats returns a snapshot of this stream's regime/unget counters.
func (s *StreamingRead) Stats() Stats { return s.stats }

func (s *StreamingRead) getBlock(perBufferData *interface{}) BlockNumber {
	if !s.haveUngetBlocknum {
		return s.callback(s, s.callbackPrivateData, perBufferData)
	}
	s.haveUngetBlocknum = false
	return s.ungetBlocknum
}

func (s *StreamingRead) ungetBlock(blocknum BlockNumber) {
	trap.Assert(!s.haveUngetBlocknum, "streamread: double unget")
	s.haveUngetBlocknum = true
	s.ungetBlocknum = blocknum
	s.stats.Ungets++
}

// startPendingRead hands the currently accumulated pending read off to
// the buffer manager, folding the result back into the ring (spec §4.7
// "merge law": a pending read only ever grows by appending a
// contiguous next block; once it can't grow, or hits bufferIOSize, it is
// flushed here).
func (s *StreamingRead) startPendingRead() {
	trap.Assert(s.pendingReadNblocks > 0, "streamread: startPendingRead with nothing pending")
	trap.Assert(s.pendingReadNblocks <= s.bufferIOSize, "streamread: pending read exceeds bufferIOSize")
	trap.Assert(s.pinnedBuffers+s.pendingReadNblocks <= s.maxPinnedBuffers, "streamread: startPendingRead would exceed pin limit")

	var advice ReadFlags
	if s.decideAdvice() {
		advice = ReadIssueAdvice
	}

	bufferIndex := s.nextBufferIndex
	ioIndex := s.nextIOIndex
	nblocks := s.pendingReadNblocks

	op := s.ios[ioIndex]
	op.BlockNum = s.pendingReadBlocknum
	op.NBlocks = nblocks
	op.Flags = advice

	needWait := s.bm.StartReadBuffers(op, s.buffers[bufferIndex:bufferIndex+nblocks], s.pendingReadBlocknum, &nblocks, advice)
	op.NBlocks = nblocks
	s.pinnedBuffers += nblocks

	if !needWait {
		trap.Assert(s.bufferIOIndexes[bufferIndex] == -1, "streamread: no-wait read into an io-pending slot")
		s.onReadServedFromCache()
	} else {
		s.bufferIOIndexes[bufferIndex] = ioIndex
		s.nextIOIndex++
		if s.nextIOIndex == s.maxIOs {
			s.nextIOIndex = 0
		}
		trap.Assert(s.iosInProgress < s.maxIOs, "streamread: too many IOs in progress")
		s.iosInProgress++
	}

	// Slide any overflow past maxPinnedBuffers back to the front of the ring.
	overflow := (s.nextBufferIndex + nblocks) - s.maxPinnedBuffers
	if overflow > 0 {
		copy(s.buffers[0:overflow], s.buffers[s.maxPinnedBuffers:s.maxPinnedBuffers+overflow])
	}

	s.seqBlocknum = s.pendingReadBlocknum + BlockNumber(nblocks)

	bufferIndex += nblocks
	if bufferIndex >= s.maxPinnedBuffers {
		bufferIndex -= s.maxPinnedBuffers
	}
	s.nextBufferIndex = bufferIndex

	s.pendingReadBlocknum += BlockNumber(nblocks)
	s.pendingReadNblocks -= nblocks
}

func (s *StreamingRead) perBufferSlot(index int) *interface{} {
	if !s.hasPerBufferData {
		return nil
	}
	return &s.perBufferData[index]
}

// lookAhead pulls block numbers from the callback and forms them into
// reads, up to the current distance, the I/O slot limit, or end of
// stream (spec §4.7 "look-ahead loop").
func (s *StreamingRead) lookAhead() {
	for s.iosInProgress < s.maxIOs &&
		s.pinnedBuffers+s.pendingReadNblocks < s.distance {

		if s.pendingReadNblocks == s.bufferIOSize {
			s.startPendingRead()
			continue
		}

		bufferIndex := s.nextBufferIndex + s.pendingReadNblocks
		if bufferIndex >= s.maxPinnedBuffers {
			bufferIndex -= s.maxPinnedBuffers
		}

		blocknum := s.getBlock(s.perBufferSlot(bufferIndex))
		if blocknum == InvalidBlockNumber {
			s.distance = 0
			break
		}

		// Merge law: a new block extends the pending read only if it is
		// exactly the next contiguous block.
		if s.pendingReadNblocks > 0 && s.pendingReadBlocknum+BlockNumber(s.pendingReadNblocks) == blocknum {
			s.pendingReadNblocks++
			s.stats.Coalesces++
			continue
		}

		for s.pendingReadNblocks > 0 {
			s.startPendingRead()
			if s.iosInProgress == s.maxIOs {
				s.ungetBlock(blocknum)
				return
			}
		}

		s.pendingReadBlocknum = blocknum
		s.pendingReadNblocks = 1
	}

	if s.pendingReadNblocks > 0 &&
		(s.distance == s.pendingReadNblocks || s.distance == 0) &&
		s.iosInProgress < s.maxIOs {
		s.startPendingRead()
	}
}

// Next returns the next buffer in the stream, or InvalidBuffer at end of
// stream. perBufferData, if non-nil, receives the extra data the
// callback attached to this block (only meaningful if Config had a
// non-zero PerBufferDataSize).
func (s *StreamingRead) Next(perBufferData *interface{}) Buffer {
	// Fast path: an all-cached, single-slot scan never needs the ring
	// machinery at all (spec §4.7 "fast path").
	if !s.hasPerBufferData && s.iosInProgress == 0 && s.pinnedBuffers == 1 && s.distance == 1 {
		buffer := s.buffers[s.oldestBufferIndex]
		next := s.getBlock(nil)
		if next == InvalidBlockNumber {
			s.distance = 0
			s.oldestBufferIndex = s.nextBufferIndex
			s.pinnedBuffers = 0
			return buffer
		}

		nblocks := 1
		op := s.ios[0]
		op.BlockNum = next
		var advice ReadFlags
		if s.adviceEnabled {
			advice = ReadIssueAdvice
		}
		op.Flags = advice
		needWait := s.bm.StartReadBuffers(op, s.buffers[s.oldestBufferIndex:s.oldestBufferIndex+1], next, &nblocks, advice)
		op.NBlocks = nblocks

		if needWait {
			s.bufferIOIndexes[s.oldestBufferIndex] = 0
			s.iosInProgress = 1
			s.nextIOIndex = 1
			s.seqBlocknum = next + 1
			d := 2
			if d > s.maxPinnedBuffers {
				d = s.maxPinnedBuffers
			}
			s.distance = d
		} else {
			s.stats.RegimeA++
		}

		return buffer
	}

	if s.pinnedBuffers == 0 {
		trap.Assert(s.oldestBufferIndex == s.nextBufferIndex, "streamread: empty ring with mismatched cursors")

		if s.distance == 0 {
			return InvalidBuffer
		}

		s.lookAhead()
		if s.distance == 0 {
			return InvalidBuffer
		}
	}

	trap.Assert(s.pinnedBuffers > 0, "streamread: Next with nothing pinned and distance != 0")
	oldestBufferIndex := s.oldestBufferIndex
	buffer := s.buffers[oldestBufferIndex]
	if perBufferData != nil {
		if slot := s.perBufferSlot(oldestBufferIndex); slot != nil {
			*perBufferData = *slot
		}
	}

	if s.iosInProgress > 0 {
		if ioIndex := s.bufferIOIndexes[oldestBufferIndex]; ioIndex >= 0 {
			op := s.ios[ioIndex]
			s.bm.WaitReadBuffers(op)
			s.bufferIOIndexes[oldestBufferIndex] = -1
			s.iosInProgress--
			s.onIOCompleted(op.Flags&ReadIssueAdvice != 0)
		}
	}

	s.pinnedBuffers--
	s.oldestBufferIndex++
	if s.oldestBufferIndex == s.maxPinnedBuffers {
		s.oldestBufferIndex = 0
	}

	s.lookAhead()

	return buffer
}

// End stops looking ahead and releases any buffers that were pinned but
// never consumed.
func (s *StreamingRead) End() {
	s.distance = 0
	for {
		buf := s.Next(nil)
		if buf == InvalidBuffer {
			break
		}
		s.bm.ReleaseBuffer(buf)
	}
	trap.Assert(s.pinnedBuffers == 0, "streamread: End left buffers pinned")
	trap.Assert(s.iosInProgress == 0, "streamread: End left IOs in progress")
}
