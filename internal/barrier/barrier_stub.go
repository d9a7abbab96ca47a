//go:build !(linux && cgo && amd64)

package barrier

import "sync/atomic"

// fence is touched on every call so the compiler can't prove Write/Read are
// no-ops and reorder around them; the real ordering guarantee on this path
// comes from the atomic state loads/stores callers already perform.
var fence atomic.Uint32

// Write is the non-cgo fallback: Go's memory model already gives the
// needed ordering around atomic.Uint32/atomic.Uint64 accesses, so no
// explicit asm fence is required off the cgo+amd64 path.
func Write() {
	fence.Add(1)
}

// Read is the fallback counterpart of Write.
func Read() {
	fence.Add(1)
}
