package comm

import (
	"unsafe"

	"github.com/lanl/halo-exchange/memory"
	"github.com/lanl/halo-exchange/transport"
)

// Elem is the set of fixed-width element types a Message can carry.
type Elem interface {
	~int32 | ~uint32 | ~float32 | ~int64 | ~uint64 | ~float64
}

// width returns the size in bytes of one T.
func width[T Elem]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

// asBytes views a slice of elements as raw bytes.
func asBytes[T Elem](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*width[T]())
}

// asElems views raw bytes as a slice of elements, dropping any partial
// trailing element.
func asElems[T Elem](b []byte) []T {
	n := len(b) / width[T]()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// An Indexer maps a logical position within an item to a position in the
// item's data: directly for a contiguous region, or through an index array.
type Indexer struct {
	list []int32
}

// Contiguous returns the identity Indexer.
func Contiguous() Indexer { return Indexer{} }

// Indirect returns an Indexer that looks positions up in list.
func Indirect(list []int32) Indexer { return Indexer{list: list} }

// At returns the data position of logical position i.
func (x Indexer) At(i int) int {
	if x.list == nil {
		return i
	}
	return int(x.list[i])
}

// Indirect reports whether x goes through an index array.
func (x Indexer) Indirect() bool { return x.list != nil }

// An Item describes one sub-region of application data within a Message.
type Item[T Elem] struct {
	// Data is the application buffer.  The item does not own it.  When
	// Type is set, Data is the base the datatype's layout is relative to.
	Data []T

	// Indices selects Size elements of Data, or nil when the region is the
	// first Size elements.  The item owns it.
	Indices []int32

	// Size is the number of elements in the region.
	Size int

	// Type describes the region to the transport, or nil.  The item owns it.
	Type *transport.Datatype

	// MaxPackedBytes bounds the bytes Type packs to.
	MaxPackedBytes int

	alloc memory.Allocator // Owner of Indices
}

// Indexer returns the item's position mapping.
func (it *Item[T]) Indexer() Indexer {
	return Indexer{list: it.Indices}
}

// release frees what the item owns.
func (it *Item[T]) release() {
	if it.Indices != nil && it.alloc != nil {
		memory.DeallocateIndices(it.alloc, it.Indices)
	}
	it.Indices = nil
	it.alloc = nil
	if it.Type != nil && !it.Type.Freed() {
		it.Type.Free()
	}
	it.Type = nil
}
