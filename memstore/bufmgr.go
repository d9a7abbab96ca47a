package memstore

import (
	"sync"

	"github.com/ehrlich-b/pgaio/streamread"
)

// BufferManager adapts a Store to streamread.BufferManager: each "buffer"
// is simply the block's data copied into a page this manager allocates, and a block
// is considered cached after its first access (this process now holds
// the only copy there is, so after one read it never needs "I/O" again.)
type BufferManager struct {
	store *Store

	mu     sync.Mutex
	cached map[int64]bool
	pages  map[streamread.Buffer][]byte

	maxPins int
}

// NewBufferManager wraps store. maxPins caps LimitAdditionalPins the way
// a real backend's buffer-pool headroom would; zero means unlimited.
func NewBufferManager(store *Store, maxPins int) *BufferManager {
	return &BufferManager{
		store:   store,
		cached:  map[int64]bool{},
		pages:   map[streamread.Buffer][]byte{},
		maxPins: maxPins,
	}
}

func (b *BufferManager) StartReadBuffers(op *streamread.ReadBuffersOperation, buffers []streamread.Buffer, blocknum streamread.BlockNumber, nblocks *int, flags streamread.ReadFlags) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	needWait := false
	for i := 0; i < *nblocks; i++ {
		block := int64(blocknum) + int64(i)
		page := make([]byte, BlockSize)
		b.store.ReadBlock(block, page)

		buf := b.allocBuffer()
		b.pages[buf] = page
		buffers[i] = buf

		if !b.cached[block] {
			needWait = true
			b.cached[block] = true
		}
	}
	op.Buffers = buffers[:*nblocks]
	return needWait
}

func (b *BufferManager) WaitReadBuffers(op *streamread.ReadBuffersOperation) {
	// The read already happened synchronously in StartReadBuffers; this
	// just marks the point a real backend would block for completion.
}

func (b *BufferManager) LimitAdditionalPins(maxPinnedBuffers *int) {
	if b.maxPins > 0 && *maxPinnedBuffers > b.maxPins {
		*maxPinnedBuffers = b.maxPins
	}
}

func (b *BufferManager) LimitAdditionalLocalPins(maxPinnedBuffers *int) {
	b.LimitAdditionalPins(maxPinnedBuffers)
}

func (b *BufferManager) ReleaseBuffer(buf streamread.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pages, buf)
}

// Page returns the bytes read for a pinned buffer, for a consumer that
// got it from StreamingRead.Next.
func (b *BufferManager) Page(buf streamread.Buffer) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[buf]
}

var nextBufID int32

func (b *BufferManager) allocBuffer() streamread.Buffer {
	nextBufID++
	return streamread.Buffer(nextBufID)
}
