//go:build linux && cgo && amd64

package barrier

/*
#include <stdint.h>

// x86-64 store fence: all prior stores are globally visible before any
// subsequent store. Used before publishing a state other processes observe.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 load fence: all prior loads complete before any subsequent load.
// Used after reading a handle's state, before dereferencing its fields.
static inline void lfence_impl(void) {
    __asm__ __volatile__("lfence" ::: "memory");
}
*/
import "C"

// Write issues a store fence (spec: "the writer issues a write barrier"
// before publishing IN_FLIGHT, REAPED, COMPLETED_SHARED, IDLE).
func Write() {
	C.sfence_impl()
}

// Read issues a load fence (spec: "readers issue a read barrier after
// reading state before dereferencing other fields").
func Read() {
	C.lfence_impl()
}
