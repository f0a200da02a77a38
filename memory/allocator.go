// Package memory provides memory-space-tagged allocators for message staging
// buffers and index arrays.
//
// Go has no separate device heap, so every space is backed by ordinary Go
// memory.  The space tag still travels with each allocator so the layers
// above can choose transfer strategies as they would on a real accelerator.
package memory

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	sysmem "github.com/pbnjay/memory"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lanl/halo-exchange/internal/contract"
)

// CacheLineSize is the alignment of every block handed out by a Pool.
const CacheLineSize = 64

// minClass is the smallest size class a Pool rounds requests up to.
const minClass = CacheLineSize

// ErrOutOfMemory is returned when an allocation would exceed a Pool's limit.
var ErrOutOfMemory = errors.New("memory: out of memory")

// An Allocator hands out byte regions in one memory space.
type Allocator interface {
	// Space reports where the allocator's memory lives.
	Space() Space

	// Allocate returns a region of exactly nbytes bytes.  A zero-byte
	// request returns a nil slice and no error.
	Allocate(nbytes int) ([]byte, error)

	// Deallocate returns a region obtained from Allocate.
	Deallocate(buf []byte)
}

// A Pool is a caching allocator.  Freed blocks are kept on per-size-class
// free lists and reused by later requests of the same class, which keeps
// repeated allocate/deallocate cycles of message buffers cheap.
type Pool struct {
	space Space
	limit int64

	mu     sync.Mutex
	free   map[int][][]byte // Size class -> cached blocks
	live   map[*byte]int    // Base address -> size class of outstanding blocks
	inUse  int64            // Bytes in outstanding blocks (by class)
	cached int64            // Bytes parked on free lists
}

// NewPool creates a caching allocator for the given space.  A non-positive
// limit selects half of the machine's physical memory, or no limit when that
// cannot be determined.
func NewPool(space Space, limit int64) *Pool {
	if limit <= 0 {
		limit = int64(sysmem.TotalMemory() / 2)
	}
	return &Pool{
		space: space,
		limit: limit,
		free:  make(map[int][][]byte),
		live:  make(map[*byte]int),
	}
}

// Space reports where the pool's memory lives.
func (p *Pool) Space() Space {
	return p.space
}

// sizeClass rounds n up to the next power of two no smaller than minClass.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	return 1 << bits.Len(uint(n-1))
}

// alignedBytes allocates a byte slice whose backing array starts on a cache
// line boundary.
func alignedBytes(size int) []byte {
	buf := make([]byte, size+CacheLineSize-1)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := int(ptr % CacheLineSize); mod != 0 {
		offset = CacheLineSize - mod
	}
	return buf[offset : offset+size : offset+size]
}

// Allocate returns a cache-line-aligned region of nbytes bytes.  The region
// is not zeroed when it is recycled from the cache.
func (p *Pool) Allocate(nbytes int) ([]byte, error) {
	contract.Require(nbytes >= 0, "memory: negative allocation of %d bytes", nbytes)
	if nbytes == 0 {
		return nil, nil
	}
	class := sizeClass(nbytes)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse a cached block of the same class if one exists.
	var blk []byte
	if lst := p.free[class]; len(lst) > 0 {
		blk = lst[len(lst)-1]
		p.free[class] = lst[:len(lst)-1]
		p.cached -= int64(class)
	} else {
		// Drop the cache before giving up on the limit.
		if p.limit > 0 && p.inUse+p.cached+int64(class) > p.limit {
			p.releaseLocked()
		}
		if p.limit > 0 && p.inUse+int64(class) > p.limit {
			return nil, fmt.Errorf("%w: %d bytes requested from %s pool with %d of %d bytes in use",
				ErrOutOfMemory, nbytes, p.space, p.inUse, p.limit)
		}
		blk = alignedBytes(class)
	}
	p.live[&blk[0]] = class
	p.inUse += int64(class)
	return blk[:nbytes], nil
}

// Deallocate returns a block to the cache.  Passing a block the pool did not
// hand out, or one already returned, violates the allocator contract.
func (p *Pool) Deallocate(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	base := unsafe.SliceData(buf)

	p.mu.Lock()
	defer p.mu.Unlock()
	class, ok := p.live[base]
	contract.Require(ok, "memory: deallocating %p which is not live in the %s pool", base, p.space)
	delete(p.live, base)
	p.inUse -= int64(class)
	p.free[class] = append(p.free[class], unsafe.Slice(base, class))
	p.cached += int64(class)
}

// InUse reports the bytes currently held by outstanding allocations,
// rounded up to their size classes.
func (p *Pool) InUse() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Live reports the number of outstanding allocations.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Cached reports the bytes parked on the free lists.
func (p *Pool) Cached() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// Release drops every cached block.
func (p *Pool) Release() {
	p.mu.Lock()
	p.releaseLocked()
	p.mu.Unlock()
}

func (p *Pool) releaseLocked() {
	p.free = make(map[int][][]byte)
	p.cached = 0
}

// Close releases the cache and reports every allocation that is still
// outstanding.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
	var err error
	for base, class := range p.live {
		err = multierr.Append(err, fmt.Errorf("memory: %s block %p (%d bytes) leaked", p.space, base, class))
	}
	if err != nil {
		zap.L().Named("memory").Warn("pool closed with live allocations",
			zap.Stringer("space", p.space), zap.Int("live", len(p.live)), zap.Int64("bytes", p.inUse))
	}
	return err
}

// AllocateIndices carves an index array of n entries out of an allocator.
func AllocateIndices(a Allocator, n int) ([]int32, error) {
	if n == 0 {
		return nil, nil
	}
	buf, err := a.Allocate(n * int(unsafe.Sizeof(int32(0))))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(unsafe.SliceData(buf))), n), nil
}

// DeallocateIndices returns an index array obtained from AllocateIndices.
func DeallocateIndices(a Allocator, idx []int32) {
	if cap(idx) == 0 {
		return
	}
	a.Deallocate(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(idx))), len(idx)*int(unsafe.Sizeof(int32(0)))))
}
