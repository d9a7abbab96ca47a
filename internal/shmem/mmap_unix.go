//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package shmem

import "golang.org/x/sys/unix"

// mmapArena allocates an anonymous MAP_SHARED region. MAP_SHARED (rather
// than MAP_PRIVATE, which the teacher uses for its I/O buffers since those
// never need to survive a fork) is what makes the mapping usable as real
// shared memory across cooperating processes, matching the spec's "one per
// process group" control block.
func mmapArena(size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
}

func munmapArena(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}
