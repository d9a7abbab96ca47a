// Package shmem allocates the one piece of the AIO control block that is
// genuinely safe to back with real POSIX shared memory: the bounce-buffer
// scratch arena. It is pure bytes with no embedded pointers or
// synchronization primitives, so an anonymous MAP_SHARED mapping (usable
// across a fork()) is exactly the right vehicle — the same choice the
// teacher repo makes for its descriptor/I/O-buffer mapping in
// mmapQueues. Handles themselves (which carry a *sync.Cond and Go-side
// pointers into issuer-local memory) are NOT placed here; they live in
// ordinary process memory, coordinated across simulated "backends" the way
// SPEC_FULL.md's process-model note describes.
package shmem

import (
	"fmt"
)

// ControlBlock is the process-group-wide shared state: the bounce-buffer
// arena, sized and carved up once at startup, plus the combine limit
// (io_combine_limit) captured at init time per the spec's conservative
// resolution of its AFIXME (read at startup, not at prepare time).
type ControlBlock struct {
	arena        []byte
	bufSize      int
	numBuffers   int
	combineLimit int
	closed       bool
}

// NewControlBlock allocates the bounce-buffer arena via an anonymous
// MAP_SHARED mapping and records the combine limit for the lifetime of the
// process group.
func NewControlBlock(numBuffers, bufSize, combineLimit int) (*ControlBlock, error) {
	if numBuffers < 0 || bufSize <= 0 || combineLimit <= 0 {
		return nil, fmt.Errorf("shmem: invalid control block parameters (numBuffers=%d bufSize=%d combineLimit=%d)", numBuffers, bufSize, combineLimit)
	}

	size := numBuffers * bufSize
	arena, err := mmapArena(size)
	if err != nil {
		return nil, fmt.Errorf("shmem: allocate bounce arena: %w", err)
	}

	return &ControlBlock{
		arena:        arena,
		bufSize:      bufSize,
		numBuffers:   numBuffers,
		combineLimit: combineLimit,
	}, nil
}

// Close releases the mapped arena. Safe to call once; a process group
// normally never calls it until shutdown.
func (c *ControlBlock) Close() error {
	if c == nil || c.closed || len(c.arena) == 0 {
		return nil
	}
	c.closed = true
	return munmapArena(c.arena)
}

// CombineLimit returns io_combine_limit as captured at startup (spec §9
// AFIXME resolution: captured once, not re-read at prepare time).
func (c *ControlBlock) CombineLimit() int { return c.combineLimit }

// NumBuffers returns the total number of bounce-buffer slots in the arena.
func (c *ControlBlock) NumBuffers() int { return c.numBuffers }

// BufferSize returns the size in bytes of one bounce-buffer slot.
func (c *ControlBlock) BufferSize() int { return c.bufSize }

// Buffer returns the byte slice backing bounce-buffer slot i. The caller
// must not retain it past the buffer's release back to the free list.
func (c *ControlBlock) Buffer(i int) []byte {
	off := i * c.bufSize
	return c.arena[off : off+c.bufSize : off+c.bufSize]
}
