// Package memstore provides an in-memory, sharded-locking storage
// manager, adapted from the teacher's backend/mem.go RAM backend. It
// stands in for a relation's on-disk blocks: callers address it by block
// number and fixed block size, the same addressing the streaming reader
// and the AIO core's syscall path both expect from a real file.
package memstore

import (
	"fmt"
	"sync"
)

// ShardSize mirrors the teacher's 64KB shard granularity: large enough
// to keep lock overhead low, small enough to give parallel readers real
// concurrency across a multi-megabyte relation.
const ShardSize = 64 * 1024

// BlockSize is the fixed page size blocks are addressed in, matching
// PostgreSQL's default page size.
const BlockSize = 8192

// Store is a RAM-backed relation: a flat byte array addressed by block
// number, protected by per-shard RWMutexes so concurrent ReadBlock calls
// from different look-ahead slots don't serialize on a single lock.
type Store struct {
	data   []byte
	nBlocks int64
	shards []sync.RWMutex

	mu      sync.Mutex
	fetched map[int64]int // block number -> synthetic fetch count, for demo/test observability
}

// NewStore creates a store sized to hold nBlocks blocks, zero-filled.
func NewStore(nBlocks int64) *Store {
	size := nBlocks * BlockSize
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Store{
		data:    make([]byte, size),
		nBlocks: nBlocks,
		shards:  make([]sync.RWMutex, numShards),
		fetched: map[int64]int{},
	}
}

func (s *Store) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(s.shards) {
		end = len(s.shards) - 1
	}
	return start, end
}

// NBlocks returns the relation's size in blocks.
func (s *Store) NBlocks() int64 { return s.nBlocks }

// ReadBlock reads one BlockSize-sized page into dst, which must be at
// least BlockSize bytes.
func (s *Store) ReadBlock(block int64, dst []byte) error {
	if block < 0 || block >= s.nBlocks {
		return fmt.Errorf("memstore: block %d out of range [0,%d)", block, s.nBlocks)
	}
	off := block * BlockSize

	start, end := s.shardRange(off, BlockSize)
	for i := start; i <= end; i++ {
		s.shards[i].RLock()
	}
	copy(dst, s.data[off:off+BlockSize])
	for i := start; i <= end; i++ {
		s.shards[i].RUnlock()
	}

	s.mu.Lock()
	s.fetched[block]++
	s.mu.Unlock()

	return nil
}

// ReadBlocks reads a contiguous run of nBlocks starting at startBlock into
// dst (which must be at least nBlocks*BlockSize), the vectored-read
// equivalent the AIO core's syscallio.Preadv exercises against a real
// file.
func (s *Store) ReadBlocks(startBlock int64, nBlocks int, dst []byte) error {
	for i := 0; i < nBlocks; i++ {
		if err := s.ReadBlock(startBlock+int64(i), dst[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlock writes one BlockSize-sized page from src.
func (s *Store) WriteBlock(block int64, src []byte) error {
	if block < 0 || block >= s.nBlocks {
		return fmt.Errorf("memstore: block %d out of range [0,%d)", block, s.nBlocks)
	}
	off := block * BlockSize

	start, end := s.shardRange(off, BlockSize)
	for i := start; i <= end; i++ {
		s.shards[i].Lock()
	}
	copy(s.data[off:off+BlockSize], src)
	for i := start; i <= end; i++ {
		s.shards[i].Unlock()
	}
	return nil
}

// FetchCount returns how many times ReadBlock has touched block, for
// tests asserting that cached blocks aren't re-fetched.
func (s *Store) FetchCount(block int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[block]
}

// Fd is a placeholder real file descriptor surface: stores that back
// onto an actual *os.File (not this in-memory one) implement this so the
// AIO core's subject Reopen hook has something to call. Store itself
// returns -1, meaning "no real fd, use the in-process fast path."
func (s *Store) Fd() int { return -1 }
