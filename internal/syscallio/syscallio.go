// Package syscallio wraps the vectored read/write syscalls the AIO core's
// synchronous method drives, plus fadvise wrappers (AdviseWillNeed,
// AdviseSequential) that nothing in this repository calls: the streaming
// reader passes advice to its BufferManager as the ReadIssueAdvice flag
// instead. Grounded on the teacher's decision to
// reach for golang.org/x/sys/unix for syscalls the stdlib doesn't expose
// directly (the teacher uses it for CPU affinity; here it's preadv/pwritev
// and fadvise).
package syscallio

import "golang.org/x/sys/unix"

// Preadv performs a vectored read at offset, returning the raw syscall
// result: non-negative byte count on success, or the negative errno the
// spec's op_data/result contract expects on failure.
func Preadv(fd int, iovs [][]byte, offset int64) int64 {
	n, err := unix.Preadv(fd, iovs, offset)
	if err != nil {
		return negErrno(err)
	}
	return int64(n)
}

// Pwritev performs a vectored write at offset, same result convention as
// Preadv.
func Pwritev(fd int, iovs [][]byte, offset int64) int64 {
	n, err := unix.Pwritev(fd, iovs, offset)
	if err != nil {
		return negErrno(err)
	}
	return int64(n)
}

// Fsync flushes fd's data and metadata to stable storage.
func Fsync(fd int) int64 {
	if err := unix.Fsync(fd); err != nil {
		return negErrno(err)
	}
	return 0
}

// FlushRange asks the kernel to write back dirty pages in [offset,
// offset+length) without waiting for the write to complete (best-effort;
// maps to sync_file_range where available).
func FlushRange(fd int, offset, length int64) int64 {
	err := unix.SyncFileRange(fd, offset, length, unix.SYNC_FILE_RANGE_WRITE)
	if err != nil {
		return negErrno(err)
	}
	return 0
}

// AdviseWillNeed issues readahead advice for [offset, offset+length).
func AdviseWillNeed(fd int, offset, length int64) error {
	return unix.Fadvise(fd, offset, length, unix.FADV_WILLNEED)
}

// AdviseSequential marks fd as being read sequentially so the kernel can
// be more aggressive about its own readahead.
func AdviseSequential(fd int, offset, length int64) error {
	return unix.Fadvise(fd, offset, length, unix.FADV_SEQUENTIAL)
}

func negErrno(err error) int64 {
	if errno, ok := err.(unix.Errno); ok {
		return -int64(errno)
	}
	return -1
}
