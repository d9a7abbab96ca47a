//go:build iouring

package iouringmethod

import "testing"

func TestToSyscallIovecs(t *testing.T) {
	bufs := [][]byte{
		[]byte("hello"),
		[]byte("world!!"),
		{},
	}
	iovecs := toSyscallIovecs(bufs)
	if len(iovecs) != 3 {
		t.Fatalf("len(iovecs) = %d, want 3", len(iovecs))
	}
	if iovecs[0].Len != 5 {
		t.Errorf("iovecs[0].Len = %d, want 5", iovecs[0].Len)
	}
	if iovecs[1].Len != 7 {
		t.Errorf("iovecs[1].Len = %d, want 7", iovecs[1].Len)
	}
}
