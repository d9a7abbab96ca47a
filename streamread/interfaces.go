package streamread

// BufferManager is the buffer-pool side of the streaming reader: it
// decides what "pinning a buffer" and "reading into it" mean. memstore
// provides one implementation over an in-process RAM relation; a real
// deployment would back this with the AIO core's Manager.PrepReadv
// against actual files.
type BufferManager interface {
	// StartReadBuffers asks for up to *nblocks starting at blocknum to be
	// read into op and the corresponding slice of buffers (already
	// sized/sliced by the caller). On return, *nblocks holds how many
	// blocks were actually accepted (may be less, e.g. because of a short
	// run of already-cached blocks that doesn't need I/O, or a BufferManager
	// limit). Returns true if WaitReadBuffers must be called before the
	// buffers are usable.
	StartReadBuffers(op *ReadBuffersOperation, buffers []Buffer, blocknum BlockNumber, nblocks *int, flags ReadFlags) bool

	// WaitReadBuffers blocks until op's read has completed.
	WaitReadBuffers(op *ReadBuffersOperation)

	// LimitAdditionalPins caps *maxPinnedBuffers to whatever headroom this
	// backend has left in the shared buffer pool.
	LimitAdditionalPins(maxPinnedBuffers *int)

	// LimitAdditionalLocalPins is the analogous cap for local (temp
	// relation) buffers, which come from a separate, smaller pool.
	LimitAdditionalLocalPins(maxPinnedBuffers *int)

	// ReleaseBuffer unpins a buffer the stream decided not to hand to its
	// consumer (e.g. during StreamingRead.End's drain).
	ReleaseBuffer(buf Buffer)
}
