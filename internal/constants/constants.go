// Package constants holds tunables and fixed limits shared across the AIO
// core and the streaming reader.
package constants

import "time"

const (
	// AIOMaxSharedCallbacks bounds the ordered chain of shared completion
	// callbacks a single handle may carry.
	AIOMaxSharedCallbacks = 4

	// SubmitBatchSize bounds the per-backend staged-submission array
	// (PGAIO_SUBMIT_BATCH_SIZE in the spec).
	SubmitBatchSize = 64

	// DefaultIOMaxConcurrency is the default per-backend AIO handle count.
	DefaultIOMaxConcurrency = 32

	// DefaultIOBounceBuffers is the default global bounce-buffer count.
	DefaultIOBounceBuffers = 256

	// DefaultEffectiveIOConcurrency is the default for the pool Config's
	// effective_io_concurrency and its tablespace overrides. The streaming
	// reader does not fall back to it; streams take IOConcurrency as given.
	DefaultEffectiveIOConcurrency = 16

	// DefaultBufferIOSize is the default combine limit: the largest number
	// of blocks coalesced into a single vectored read (io_combine_limit).
	DefaultBufferIOSize = 16

	// BounceBufferSize is the size in bytes of one scratch page.
	BounceBufferSize = 8192

	// InvalidBlockNumber is the streaming-reader sentinel meaning
	// "no more blocks" from the client callback.
	InvalidBlockNumber uint64 = ^uint64(0)

	// InvalidBuffer is the sentinel returned by Next() once the stream is
	// drained.
	InvalidBuffer int32 = -1

	// AcquireWaitPollInterval bounds how often a blocking Acquire rechecks
	// the idle list when woken spuriously.
	AcquireWaitPollInterval = 10 * time.Millisecond
)
