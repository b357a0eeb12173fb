package rtnet

import (
	"sync"
)

// maxBufferSize is the maximum size of buffers that will be pooled.
const maxBufferSize = 64 * 1024 // 64KB

// minBufferSize is the smallest size class.
const minBufferSize = 32

// bufferPool is a pool of byte slices for reuse, bucketed by power-of-two size class.
type bufferPool struct {
	pools []*sync.Pool
}

// Global buffer pool instance shared by receive buffers and send chunks.
var globalBufferPool = newBufferPool()

// newBufferPool creates a new buffer pool.
func newBufferPool() *bufferPool {
	bp := &bufferPool{}

	for size := minBufferSize; size <= maxBufferSize; size <<= 1 {
		size := size
		bp.pools = append(bp.pools, &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		})
	}

	return bp
}

// classIndex returns the pool index for the smallest class holding size bytes.
func classIndex(size int) int {
	idx := 0
	for classSize := minBufferSize; classSize < size; classSize <<= 1 {
		idx++
	}
	return idx
}

// getBuffer retrieves a buffer of length size from the pool.
func (bp *bufferPool) getBuffer(size int) []byte {
	if size > maxBufferSize {
		return make([]byte, size)
	}

	buf := bp.pools[classIndex(size)].Get().([]byte)
	return buf[:size]
}

// putBuffer returns a buffer to the pool. Buffers that did not come from
// the pool (odd capacities, oversized) are dropped.
func (bp *bufferPool) putBuffer(buf []byte) {
	c := cap(buf)
	if c > maxBufferSize || c < minBufferSize || c&(c-1) != 0 {
		return
	}

	bp.pools[classIndex(c)].Put(buf[:c]) //nolint:staticcheck // slices are small headers.
}

// GetBuffer returns a pooled buffer of length size.
func GetBuffer(size int) []byte {
	return globalBufferPool.getBuffer(size)
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool.
func PutBuffer(buf []byte) {
	globalBufferPool.putBuffer(buf)
}
